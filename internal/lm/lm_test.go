package lm

import (
	"testing"

	"github.com/crjfisher/bergamot/pkg/models"
)

func TestValid(t *testing.T) {
	cases := []struct {
		name string
		resp models.LMResponse
		want bool
	}{
		{"valid", models.LMResponse{PageType: models.ClassKnowledge, Confidence: 0.8}, true},
		{"unknown type", models.LMResponse{PageType: "bogus", Confidence: 0.5}, false},
		{"confidence too high", models.LMResponse{PageType: models.ClassOther, Confidence: 1.5}, false},
		{"confidence negative", models.LMResponse{PageType: models.ClassOther, Confidence: -0.1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Valid(tc.resp); got != tc.want {
				t.Errorf("Valid(%+v) = %v, want %v", tc.resp, got, tc.want)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	resp, ok := parseResponse(`{"page_type":"knowledge","confidence":0.9,"reasoning":"docs","should_process":true}`)
	if !ok {
		t.Fatal("parseResponse() ok = false, want true")
	}
	if resp.PageType != models.ClassKnowledge || resp.Confidence != 0.9 {
		t.Errorf("parseResponse() = %+v", resp)
	}

	if _, ok := parseResponse("not json"); ok {
		t.Error("parseResponse(garbage) ok = true, want false")
	}

	if _, ok := parseResponse(`{"page_type":"not_a_type","confidence":0.5}`); ok {
		t.Error("parseResponse(invalid type) ok = true, want false")
	}
}
