package settlement

import (
	"errors"
	"testing"
)

func TestSplit_DefaultRate(t *testing.T) {
	// 100 USDC in micro-units splits 95/5.
	got, err := Split(100_000_000, DefaultFeeRate)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if got.PlatformFee != 5_000_000 {
		t.Errorf("expected platform fee 5000000, got %d", got.PlatformFee)
	}
	if got.ProviderShare != 95_000_000 {
		t.Errorf("expected provider share 95000000, got %d", got.ProviderShare)
	}
}

func TestSplit_Conservation(t *testing.T) {
	// fee + providerShare must equal amount exactly, including amounts where
	// the 5% fee does not divide evenly.
	amounts := []int64{0, 1, 2, 19, 20, 21, 99, 100, 101, 333_333, 999_999, 1_000_000, 123_456_789, 1<<40 + 7}
	for _, amount := range amounts {
		s, err := Split(amount, DefaultFeeRate)
		if err != nil {
			t.Fatalf("split(%d): %v", amount, err)
		}
		if s.PlatformFee+s.ProviderShare != amount {
			t.Errorf("split(%d): fee %d + share %d != amount", amount, s.PlatformFee, s.ProviderShare)
		}
		if s.PlatformFee < 0 || s.ProviderShare < 0 {
			t.Errorf("split(%d): negative component %+v", amount, s)
		}
	}
}

func TestSplit_RemainderToProvider(t *testing.T) {
	// 21 micro-units at 5%: fee = floor(1.05) = 1, provider keeps 20.
	s, err := Split(21, DefaultFeeRate)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if s.PlatformFee != 1 || s.ProviderShare != 20 {
		t.Errorf("expected 1/20, got %d/%d", s.PlatformFee, s.ProviderShare)
	}
}

func TestSplit_NegativeAmount(t *testing.T) {
	if _, err := Split(-1, DefaultFeeRate); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative, got %v", err)
	}
}

func TestSplit_Overflow(t *testing.T) {
	_, err := Split(1<<62, DefaultFeeRate)
	if !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
}

func TestSplit_InvalidRate(t *testing.T) {
	cases := []FeeRate{{Num: -1, Den: 100}, {Num: 5, Den: 0}, {Num: 101, Den: 100}}
	for _, rate := range cases {
		if _, err := Split(100, rate); !errors.Is(err, ErrInvalidFeeRate) {
			t.Errorf("rate %+v: expected ErrInvalidFeeRate, got %v", rate, err)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		micro int64
		want  string
	}{
		{0, "0"},
		{500_000, "0.5"},
		{1_000_000, "1"},
		{100_000_000, "100"},
		{1_500_000, "1.5"},
		{1_234_567, "1.234567"},
		{-2_500_000, "-2.5"},
	}
	for _, tc := range cases {
		if got := FormatAmount(tc.micro); got != tc.want {
			t.Errorf("FormatAmount(%d) = %q, want %q", tc.micro, got, tc.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0.5", 500_000},
		{"100", 100_000_000},
		{"1.234567", 1_234_567},
		{".25", 250_000},
		{"-2.5", -2_500_000},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseAmount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "abc", "1.2345678"} {
		if _, err := ParseAmount(bad); err == nil {
			t.Errorf("ParseAmount(%q): expected error", bad)
		}
	}
}

func TestFormatParse_RoundTrip(t *testing.T) {
	for _, micro := range []int64{0, 1, 500_000, 999_999, 1_000_001, 123_456_789} {
		back, err := ParseAmount(FormatAmount(micro))
		if err != nil {
			t.Fatalf("round trip %d: %v", micro, err)
		}
		if back != micro {
			t.Errorf("round trip %d: got %d", micro, back)
		}
	}
}
