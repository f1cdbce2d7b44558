package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantsFallBackToDefaultBranch(t *testing.T) {
	cfg := Config{SocialCues: "42", Source: "58", Tone: "71"}
	assert.Equal(t, SocialCuesInstitutional, cfg.SocialCuesVariant())
	assert.Equal(t, CitationOmitted, cfg.CitationVariant())
	assert.Equal(t, ToneFormal, cfg.ToneVariant())

	garbage := Config{SocialCues: "banana", Source: "", Tone: "71 "}
	assert.Equal(t, SocialCuesPersonal, garbage.SocialCuesVariant())
	assert.Equal(t, CitationExplicit, garbage.CitationVariant())
	assert.Equal(t, ToneCasual, garbage.ToneVariant())
}

func TestConfigCode(t *testing.T) {
	cfg := Config{SocialCues: "42", Source: "58", Tone: "71"}
	assert.Equal(t, "425871", cfg.Code())
}

func TestSeedCoversEveryArm(t *testing.T) {
	seeds := Seed()
	require.Len(t, seeds, 8)

	type arm struct {
		s SocialCues
		c Citation
		t Tone
	}
	arms := make(map[arm]struct{})
	for _, c := range seeds {
		arms[arm{c.Config.SocialCuesVariant(), c.Config.CitationVariant(), c.Config.ToneVariant()}] = struct{}{}
	}
	assert.Len(t, arms, 8)

	store := NewMemoryStore(seeds)
	got, ok := store.FindByID("c425871")
	require.True(t, ok)
	assert.Equal(t, Config{SocialCues: "42", Source: "58", Tone: "71"}, got.Config)
}

func TestParseConditions(t *testing.T) {
	raw := []byte(`
conditions:
  - id: formal
    title: Formal arm
    config: {socialCues: "42", source: "58", tone: "71"}
  - id: casual
    title: Casual arm
    config: {socialCues: "41", source: "57", tone: "70"}
`)
	conditions, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, conditions, 2)
	assert.Equal(t, "formal", conditions[0].ID)
	assert.Equal(t, "425871", conditions[0].Config.Code())
	assert.Equal(t, ToneCasual, conditions[1].Config.ToneVariant())
}

func TestParseConditionsRejectsDuplicates(t *testing.T) {
	raw := []byte(`
conditions:
  - id: a
  - id: a
`)
	_, err := Parse(raw)
	assert.Error(t, err)
}

func TestParseConditionsRequiresID(t *testing.T) {
	_, err := Parse([]byte("conditions:\n  - title: nameless\n"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	store := NewMemoryStore(Seed())
	explicit := Config{SocialCues: "1", Source: "2", Tone: "3"}

	got, err := Resolve(store, "", explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	got, err = Resolve(store, "c425871", explicit)
	require.NoError(t, err)
	assert.Equal(t, "425871", got.Code())

	_, err = Resolve(store, "missing", explicit)
	assert.ErrorIs(t, err, ErrConditionNotFound)
}
