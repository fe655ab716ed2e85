package blobstore

import "testing"

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "vocab/el/a1/manifest.json", want: "vocab/el/a1/manifest.json"},
		{in: "lessons//el/./a1/x.wav", want: "lessons/el/a1/x.wav"},
		{in: "", wantErr: true},
		{in: "/etc/passwd", wantErr: true},
		{in: "../secret", wantErr: true},
		{in: "a/../../b", wantErr: true},
		{in: `a\b`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanPath(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDirPrefix(t *testing.T) {
	for in, want := range map[string]string{"": "", ".": "", "lessons/el": "lessons/el/", "lessons/el/": "lessons/el/"} {
		got, err := DirPrefix(in)
		if err != nil {
			t.Fatalf("DirPrefix(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("DirPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
