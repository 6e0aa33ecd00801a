package types

import "testing"

func TestParseReplayMode(t *testing.T) {
	tests := []struct {
		input   string
		want    ReplayMode
		wantErr bool
	}{
		{input: "", want: ReplayOff},
		{input: "off", want: ReplayOff},
		{input: "read_only", want: ReplayReadOnly},
		{input: "read_write", want: ReplayReadWrite},
		{input: "readonly", wantErr: true},
		{input: "record", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseReplayMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseReplayMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseReplayMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseBrowserFlavor(t *testing.T) {
	if got, err := ParseBrowserFlavor(""); err != nil || got != BrowserChromium {
		t.Errorf("empty flavor should default to chromium, got %q err %v", got, err)
	}
	if _, err := ParseBrowserFlavor("chrome"); err == nil {
		t.Error("chrome is not a valid flavor")
	}
}

func TestContextSpec_Validate(t *testing.T) {
	valid := ContextSpec{Name: "main", Replay: ReplayOff}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid spec rejected: %v", err)
	}

	unnamed := ContextSpec{}
	if err := unnamed.Validate(); err == nil {
		t.Error("unnamed spec accepted")
	}

	badScale := ContextSpec{Name: "main", VideoScale: -1}
	if err := badScale.Validate(); err == nil {
		t.Error("negative video scale accepted")
	}
}
