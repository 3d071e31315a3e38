package version_test

import (
	"reflect"
	"testing"

	"capstan/internal/version"
)

func TestParseRoundTrips(t *testing.T) {
	cases := []struct {
		input   string
		release []int
		pre     string
		preNum  int
		dev     int
		channel version.Channel
	}{
		{"1.2.3", []int{1, 2, 3}, "", 0, -1, version.ChannelStable},
		{"0.1", []int{0, 1}, "", 0, -1, version.ChannelStable},
		{"2026.8", []int{2026, 8}, "", 0, -1, version.ChannelStable},
		{"1.2.3a1", []int{1, 2, 3}, "a", 1, -1, version.ChannelPrerelease},
		{"1.2.3b2", []int{1, 2, 3}, "b", 2, -1, version.ChannelPrerelease},
		{"1.2.3rc10", []int{1, 2, 3}, "rc", 10, -1, version.ChannelPrerelease},
		{"1.2.3.dev4", []int{1, 2, 3}, "", 0, 4, version.ChannelDev},
		{"1.2.3rc1.dev2", []int{1, 2, 3}, "rc", 1, 2, version.ChannelDev},
		{"1.09.3", []int{1, 9, 3}, "", 0, -1, version.ChannelStable},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			v, err := version.Parse(tc.input)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tc.input, err)
			}
			if !reflect.DeepEqual(v.Release, tc.release) {
				t.Fatalf("release = %v, want %v", v.Release, tc.release)
			}
			if v.PreLabel != tc.pre || v.PreNumber != tc.preNum {
				t.Fatalf("pre = %q/%d, want %q/%d", v.PreLabel, v.PreNumber, tc.pre, tc.preNum)
			}
			if v.Dev != tc.dev {
				t.Fatalf("dev = %d, want %d", v.Dev, tc.dev)
			}
			if v.Channel() != tc.channel {
				t.Fatalf("channel = %s, want %s", v.Channel(), tc.channel)
			}
			if tc.input != "1.09.3" && v.String() != tc.input {
				t.Fatalf("String() = %q, want %q", v.String(), tc.input)
			}
		})
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"empty":             "",
		"whitespace":        "   ",
		"v prefix":          "v1.2.3",
		"capital v prefix":  "V1.2.3",
		"local segment":     "1.2.3+local",
		"epoch":             "1!2.0",
		"bare dot":          "1..2",
		"trailing dot":      "1.2.",
		"missing release":   "rc1",
		"bare pre label":    "1.2.3rc",
		"unsupported label": "1.2.3c1",
		"post segment":      "1.2.3.post1",
		"bare dev":          "1.2.3.dev",
		"alpha dev":         "1.2.3.devx",
		"negative":          "1.-2.3",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := version.Parse(input); err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", input)
			}
		})
	}
}

func TestIsPrerelease(t *testing.T) {
	stable, err := version.Parse("3.0.0")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if stable.IsPrerelease() {
		t.Fatal("3.0.0 flagged as prerelease")
	}
	dev, err := version.Parse("3.0.0.dev1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !dev.IsPrerelease() {
		t.Fatal("3.0.0.dev1 not flagged as prerelease")
	}
}

func TestParseChannel(t *testing.T) {
	if ch, ok := version.ParseChannel(" Stable "); !ok || ch != version.ChannelStable {
		t.Fatalf("ParseChannel(stable) = %q, %v", ch, ok)
	}
	if _, ok := version.ParseChannel("nightly"); ok {
		t.Fatal("ParseChannel accepted unknown channel")
	}
}

func TestNormalizeDistName(t *testing.T) {
	cases := map[string]string{
		"widget-kit":     "widget_kit",
		"Widget.Kit":     "widget_kit",
		"widget--kit":    "widget_kit",
		"widget-_.kit":   "widget_kit",
		"WIDGETKIT":      "widgetkit",
		"widget_kit_2":   "widget_kit_2",
		"  widget-kit  ": "widget_kit",
	}
	for input, want := range cases {
		if got := version.NormalizeDistName(input); got != want {
			t.Fatalf("NormalizeDistName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestDistributionNames(t *testing.T) {
	v, err := version.Parse("1.4.0rc2")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := version.WheelStem("widget-kit", v); got != "widget_kit-1.4.0rc2" {
		t.Fatalf("WheelStem = %q", got)
	}
	if got := version.SdistName("widget-kit", v); got != "widget_kit-1.4.0rc2.tar.gz" {
		t.Fatalf("SdistName = %q", got)
	}
	if got := version.WheelName("widget-kit", v, "", "", ""); got != "widget_kit-1.4.0rc2-py3-none-any.whl" {
		t.Fatalf("WheelName = %q", got)
	}
	if got := version.WheelName("widget-kit", v, "cp312", "cp312", "manylinux_2_28_x86_64"); got != "widget_kit-1.4.0rc2-cp312-cp312-manylinux_2_28_x86_64.whl" {
		t.Fatalf("WheelName with tags = %q", got)
	}
}
