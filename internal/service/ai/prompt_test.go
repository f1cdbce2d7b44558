package ai

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
)

func TestBuildPromptSelectsExactlyOneFragmentPerAxis(t *testing.T) {
	personalCues := fmt.Sprintf(personalCuesTemplate, ChatbotIdentity, "Sam")
	casualTone := fmt.Sprintf(casualToneTemplate, ChatbotIdentity)

	cases := []struct {
		social, tone    string
		wantInstitution bool
		wantFormalTone  bool
	}{
		{"42", "71", true, true},
		{"42", "70", true, false},
		{"41", "71", false, true},
		{"41", "70", false, false},
	}

	for _, tc := range cases {
		out := BuildPrompt(experiment.Config{SocialCues: tc.social, Source: "58", Tone: tc.tone}, "Sam")

		assert.Equal(t, tc.wantInstitution, strings.Contains(out, institutionalCues), "social=%s", tc.social)
		assert.Equal(t, !tc.wantInstitution, strings.Contains(out, personalCues), "social=%s", tc.social)
		assert.Equal(t, tc.wantFormalTone, strings.Contains(out, formalTone), "tone=%s", tc.tone)
		assert.Equal(t, !tc.wantFormalTone, strings.Contains(out, casualTone), "tone=%s", tc.tone)
	}
}

func TestBuildPromptCitationAxis(t *testing.T) {
	omitted := BuildPrompt(experiment.Config{SocialCues: "42", Source: "58", Tone: "71"}, "")
	assert.Contains(t, omitted, omitCitations)
	assert.NotContains(t, omitted, citeSources)

	cited := BuildPrompt(experiment.Config{SocialCues: "42", Source: "59", Tone: "71"}, "")
	assert.Contains(t, cited, citeSources)
	assert.NotContains(t, cited, omitCitations)
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	cfg := experiment.Config{SocialCues: "x", Source: "y", Tone: "z"}
	assert.Equal(t, BuildPrompt(cfg, "Alex"), BuildPrompt(cfg, "Alex"))
}

func TestBuildPromptUnknownSelectorsUseDefaultBranch(t *testing.T) {
	out := BuildPrompt(experiment.Config{SocialCues: "garbage", Source: "", Tone: "??"}, "Robin")

	assert.Contains(t, out, "Always address his/her name Robin")
	assert.Contains(t, out, citeSources)
	assert.Contains(t, out, "Use a casual, informal, and personal tone")
	assert.True(t, strings.HasPrefix(out, "You are a/an American assistant for The United Nations Environment Programme (UNEP)."))
}

func TestBuildPromptInstitutionalIgnoresDisplayName(t *testing.T) {
	out := BuildPrompt(experiment.Config{SocialCues: "42", Source: "58", Tone: "71"}, "Robin")
	assert.NotContains(t, out, "Robin")
}
