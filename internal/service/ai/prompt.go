package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
)

// ChatbotIdentity is the cultural persona the assistant plays in every arm.
const ChatbotIdentity = "American"

// Policy fragments, one per variant of each axis.
const (
	institutionalCues = `- Always represent yourself as an assistant for UNEP and Do NOT create a personal name for yourself.
- NEVER request the client's name.`

	personalCuesTemplate = `- Give yourself a common %s name, but the name should not be offensive.
- Always address his/her name %s in the following conversation.`

	omitCitations = `- Provide credible and accurate information, knowledge as possible but omit all citations or explicit source references.`

	citeSources = `- Provide credible and accurate information, knowledge as possible and explicitly cite sources to support your claims.`

	formalTone = `Remember you represent an official agency. Use a formal, official, and professional tone in communication.
The information and knowledge should be clear, precise, authoritative, and well-structured.`

	casualToneTemplate = `Remember you are a/an %s, not a chatbot. Use a casual, informal, and personal tone in communication.
Use emojis, emoticons, acronyms (e.g., smh), and sound mimicking (e.g., sooooo) when appropriate.
Do not provide too much information at one time by using a big list of bullet points.`

	identityTemplate = `You are a/an %[1]s assistant for The United Nations Environment Programme (UNEP).
Your job is to provide precise and concise replies to climate change myths.
If you are not certain, express uncertainty and direct users to authoritative scientific reports.

Play the role of a/an %[1]s by following the rules:
- Adapting your language, tone, slang, acronyms, emojis, and other textual cues as appropriate based on the %[1]s.
- If the client responds in a certain language, you should reply in that language too.
- Confirm user needs and occasionally ask follow-up questions for clarification.`
)

// BuildPrompt assembles the system prompt of a study arm. The result depends
// only on its inputs.
func BuildPrompt(cfg experiment.Config, displayName string) string {
	blocks := []string{
		fmt.Sprintf(identityTemplate, ChatbotIdentity),
		socialCuesBlock(cfg.SocialCuesVariant(), displayName),
		citationBlock(cfg.CitationVariant()),
		"",
		toneBlock(cfg.ToneVariant()),
	}
	return strings.Join(blocks, "\n") + "\n"
}

func socialCuesBlock(v experiment.SocialCues, displayName string) string {
	switch v {
	case experiment.SocialCuesInstitutional:
		return institutionalCues
	default:
		return fmt.Sprintf(personalCuesTemplate, ChatbotIdentity, displayName)
	}
}

func citationBlock(v experiment.Citation) string {
	switch v {
	case experiment.CitationOmitted:
		return omitCitations
	default:
		return citeSources
	}
}

func toneBlock(v experiment.Tone) string {
	switch v {
	case experiment.ToneFormal:
		return formalTone
	default:
		return fmt.Sprintf(casualToneTemplate, ChatbotIdentity)
	}
}
