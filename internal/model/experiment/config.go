package experiment

import "fmt"

// Sentinel selector values that pick variant A of each axis. Anything else
// selects variant B.
const (
	SocialCuesSentinel = "42"
	SourceSentinel     = "58"
	ToneSentinel       = "71"
)

// Config holds the raw selector values of one study arm. The raw strings are
// kept because they make up the export code of a transcript.
type Config struct {
	SocialCues string `json:"socialCues" yaml:"socialCues"`
	Source     string `json:"source" yaml:"source"`
	Tone       string `json:"tone" yaml:"tone"`
}

// SocialCues selects how the assistant presents itself and addresses the user.
type SocialCues int

const (
	// SocialCuesPersonal gives the assistant a name and addresses the user by name.
	SocialCuesPersonal SocialCues = iota
	// SocialCuesInstitutional keeps an anonymous institutional identity.
	SocialCuesInstitutional
)

// Citation selects whether answers cite sources.
type Citation int

const (
	CitationExplicit Citation = iota
	CitationOmitted
)

// Tone selects the register of the answers.
type Tone int

const (
	ToneCasual Tone = iota
	ToneFormal
)

// SocialCuesVariant resolves the social-cues selector.
func (c Config) SocialCuesVariant() SocialCues {
	switch c.SocialCues {
	case SocialCuesSentinel:
		return SocialCuesInstitutional
	default:
		return SocialCuesPersonal
	}
}

// CitationVariant resolves the source-citation selector.
func (c Config) CitationVariant() Citation {
	switch c.Source {
	case SourceSentinel:
		return CitationOmitted
	default:
		return CitationExplicit
	}
}

// ToneVariant resolves the tone selector.
func (c Config) ToneVariant() Tone {
	switch c.Tone {
	case ToneSentinel:
		return ToneFormal
	default:
		return ToneCasual
	}
}

// Code concatenates the selectors in export order (social cues, source, tone).
func (c Config) Code() string {
	return c.SocialCues + c.Source + c.Tone
}

func (c Config) String() string {
	return fmt.Sprintf("social=%s source=%s tone=%s", c.SocialCues, c.Source, c.Tone)
}
