package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/services"
)

func sampleTranscript() *services.Transcript {
	conf := 0.9
	return &services.Transcript{
		Debate: &models.Debate{
			ID:      "dbt_x",
			Slug:    "pick-a-cache-1a2b3c4d",
			Task:    "Pick a cache",
			Agents:  []string{"alpha", "beta"},
			Status:  models.DebateStatusComplete,
			Outcome: models.OutcomeConsensus,
		},
		Messages: []models.DebateMessage{
			{
				DebateID: "dbt_x", Round: 1, Agent: "alpha", Role: models.RoleProposer,
				Content: "Use **LRU** with a TTL.", Confidence: &conf,
				CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			},
			{
				DebateID: "dbt_x", Round: 1, Agent: "beta", Role: models.RoleCritic,
				Content:   "<script>alert(1)</script> Agreed, but bound the size.",
				CreatedAt: time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
			},
		},
		Votes: []models.Vote{
			{DebateID: "dbt_x", Agent: "alpha", Choice: "alpha", Confidence: 0.9, Reasoning: "fits"},
			{DebateID: "dbt_x", Agent: "beta", Choice: "alpha", Confidence: 0.8},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"json", "csv", "html"} {
		f, err := ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, Format(s), f)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleTranscript()))

	var doc struct {
		Transcript services.Transcript `json:"transcript"`
		Exporter   string              `json:"exporter"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "dbt_x", doc.Transcript.Debate.ID)
	assert.Len(t, doc.Transcript.Messages, 2)
	assert.Len(t, doc.Transcript.Votes, 2)
	assert.Contains(t, doc.Exporter, "aragora")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleTranscript()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5) // header + 2 messages + 2 votes
	assert.Equal(t, "kind", rows[0][0])
	assert.Equal(t, "message", rows[1][0])
	assert.Equal(t, "alpha", rows[1][2])
	assert.Equal(t, "vote", rows[3][0])
	assert.Equal(t, "alpha", rows[3][5])
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatHTML, sampleTranscript()))
	page := buf.String()

	assert.Contains(t, page, "<title>Pick a cache</title>")
	assert.Contains(t, page, "<strong>LRU</strong>")
	assert.Contains(t, page, "consensus")
	// Raw HTML in agent output never reaches the page unescaped.
	assert.NotContains(t, page, "<script>alert(1)</script>")
}
