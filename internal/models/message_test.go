package models

import (
	"reflect"
	"testing"
)

func TestDecodeReferenceImages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"ordered array", `["a.png","b.png","c.png"]`, []string{"a.png", "b.png", "c.png"}},
		{"empty string", "", nil},
		{"empty array", "[]", nil},
		{"json null", "null", nil},
		{"malformed json", `["a.png"`, nil},
		{"not an array", `{"src":"a.png"}`, nil},
		{"non-string entries dropped", `["a.png",42,null,"b.png"]`, []string{"a.png", "b.png"}},
		{"blank entries dropped", `["", "  ", "a.png"]`, []string{"a.png"}},
		{"only blank entries", `["", "  "]`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecodeReferenceImages(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("DecodeReferenceImages(%q) = %#v, want %#v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	images := []string{"https://img.example/1.png", "data:image/png;base64,AAAA"}
	raw := EncodeReferenceImages(images)
	if got := DecodeReferenceImages(raw); !reflect.DeepEqual(got, images) {
		t.Fatalf("round trip = %#v, want %#v", got, images)
	}
	if EncodeReferenceImages(nil) != "" {
		t.Fatalf("empty list should encode to the absent value")
	}
}

func TestSenderKindFallback(t *testing.T) {
	ms := int64(1200)
	cases := []struct {
		name string
		msg  Message
		want MessageKind
	}{
		{"explicit user", Message{Kind: KindUser, GenerationTime: &ms}, KindUser},
		{"explicit agent", Message{Kind: KindAgent}, KindAgent},
		{"legacy with duration", Message{GenerationTime: &ms}, KindAgent},
		{"legacy with image", Message{ImageData: "https://img.example/1.png"}, KindAgent},
		{"legacy plain text", Message{Content: "hi"}, KindUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.SenderKind(); got != tc.want {
				t.Fatalf("SenderKind() = %q, want %q", got, tc.want)
			}
		})
	}
}
