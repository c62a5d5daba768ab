package runlog

import "testing"

func TestChatCost(t *testing.T) {
	cases := []struct {
		model  string
		input  int
		output int
		want   float64
	}{
		{"gpt-4o", 1000, 1000, 0.020},
		{"gpt-4-turbo", 1000, 1000, 0.040},
		{"gpt-4", 1000, 1000, 0.090},
		{"gpt-3.5-turbo", 2000, 2000, 0.004},
		{"gpt-4-turbo", 500, 0, 0.005},
		{"gpt-4-turbo", 0, 0, 0},
	}
	for _, tc := range cases {
		if got := ChatCost(tc.model, tc.input, tc.output); !almostEqual(got, tc.want) {
			t.Fatalf("ChatCost(%s, %d, %d) = %f, want %f", tc.model, tc.input, tc.output, got, tc.want)
		}
	}
}

func TestChatCostUnknownModelFallsBack(t *testing.T) {
	got := ChatCost("mystery-9000", 1500, 700)
	want := ChatCost("gpt-4-turbo", 1500, 700)
	if !almostEqual(got, want) {
		t.Fatalf("unknown model cost = %f, want gpt-4-turbo rate %f", got, want)
	}
}

func TestImageCost(t *testing.T) {
	cases := []struct {
		size    string
		quality string
		want    float64
	}{
		{"1024x1024", "standard", 0.040},
		{"1792x1024", "standard", 0.080},
		{"1024x1792", "standard", 0.080},
		{"1024x1024", "hd", 0.080},
		{"1792x1024", "hd", 0.120},
		{"1024x1792", "hd", 0.120},
	}
	for _, tc := range cases {
		if got := ImageCost(tc.size, tc.quality); !almostEqual(got, tc.want) {
			t.Fatalf("ImageCost(%s, %s) = %f, want %f", tc.size, tc.quality, got, tc.want)
		}
	}
}

func TestImageCostUnknownFallsBack(t *testing.T) {
	if got := ImageCost("512x512", "standard"); !almostEqual(got, 0.040) {
		t.Fatalf("unknown size cost = %f, want 0.040", got)
	}
	if got := ImageCost("1024x1024", "ultra"); !almostEqual(got, 0.040) {
		t.Fatalf("unknown quality cost = %f, want 0.040", got)
	}
}
