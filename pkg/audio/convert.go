package audio

// Convert returns 16-bit pcm converted from one format to another, resampling
// by linear interpolation before the channel count is changed. When the
// formats are equal pcm is returned as is.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to {
		return pcm
	}
	if from.SampleRate != to.SampleRate {
		pcm = resample(pcm, from.Channels, from.SampleRate, to.SampleRate)
	}
	switch {
	case from.Channels == 1 && to.Channels == 2:
		return upmix(pcm)
	case from.Channels == 2 && to.Channels == 1:
		return downmix(pcm)
	}
	return pcm
}

// upmix duplicates every mono sample into both stereo channels. A trailing
// odd byte is dropped.
func upmix(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// downmix averages the two channels of every stereo frame.
func downmix(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		sum := int32(sampleAt(pcm, 2*i)) + int32(sampleAt(pcm, 2*i+1))
		putSample(out, i, clamp16(sum/2))
	}
	return out
}

// resample converts interleaved pcm with the given channel count from src
// to dst Hz. Non-positive rates leave pcm unchanged.
func resample(pcm []byte, channels, src, dst int) []byte {
	if src <= 0 || dst <= 0 || src == dst || channels <= 0 {
		return pcm
	}
	in := len(pcm) / (2 * channels)
	if in == 0 {
		return pcm
	}
	n := int(int64(in) * int64(dst) / int64(src))
	if n == 0 {
		return nil
	}
	out := make([]byte, n*2*channels)
	step := float64(src) / float64(dst)
	for i := range n {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		k := min(j+1, in-1)
		for ch := range channels {
			a := float64(sampleAt(pcm, j*channels+ch))
			b := float64(sampleAt(pcm, k*channels+ch))
			putSample(out, i*channels+ch, int16(a+(b-a)*frac))
		}
	}
	return out
}
