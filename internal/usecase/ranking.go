package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/ports"
)

const rankingSystemPrompt = `You are a news curator for a personalized AI newsletter. You score candidate articles for one reader and keep only the ones worth their time.

Respond with a JSON object of the form:
{"articles":[{"digest_id":"<id>","relevance_score":<0.0-1.0>,"rank":<1-based>,"reasoning":"<one sentence>"}]}

Rules:
- Use only digest_id values from the candidate list.
- Leave out articles that are not relevant to the reader.
- Rank 1 is the most relevant article.`

// RankingEngine scores candidate digests for one user with a single completion call.
type RankingEngine struct {
	completer   ports.Completer
	temperature float64
	logger      *slog.Logger
}

var _ ports.Ranker = (*RankingEngine)(nil)

// NewRankingEngine wires the completion client.
func NewRankingEngine(completer ports.Completer, temperature float64, logger *slog.Logger) *RankingEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RankingEngine{completer: completer, temperature: temperature, logger: logger}
}

type rankedEntry struct {
	DigestID  string  `json:"digest_id"`
	Score     float64 `json:"relevance_score"`
	Rank      int     `json:"rank"`
	Reasoning string  `json:"reasoning"`
}

type rankedOutput struct {
	Articles []rankedEntry `json:"articles"`
}

// Rank returns relevant candidates ordered by score. Completion failures and
// unusable output yield an empty list; only context cancellation is an error.
func (e *RankingEngine) Rank(ctx context.Context, candidates []domain.Digest, profile domain.Profile) ([]domain.RankedItem, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	raw, err := e.completer.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: rankingSystemPrompt},
			{Role: "user", Content: buildRankingPrompt(candidates, profile)},
		},
		Temperature: e.temperature,
		JSON:        true,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Error("ranking completion failed", "user", profile.Name, "candidates", len(candidates), "error", err)
		return nil, nil
	}

	items, dropped, err := parseRanking(raw, candidates)
	if err != nil {
		e.logger.Warn("unparsable ranking output", "user", profile.Name, "error", err)
		return nil, nil
	}
	if dropped > 0 {
		e.logger.Debug("ignored invalid ranking entries", "user", profile.Name, "dropped", dropped)
	}
	return items, nil
}

func buildRankingPrompt(candidates []domain.Digest, profile domain.Profile) string {
	var b strings.Builder

	b.WriteString("Reader profile:\n")
	fmt.Fprintf(&b, "Name: %s\n", profile.Name)
	fmt.Fprintf(&b, "Background: %s\n", profile.Background)
	fmt.Fprintf(&b, "Expertise level: %s\n", profile.ExpertiseLevel)
	fmt.Fprintf(&b, "Interests: %s\n", strings.Join(profile.Interests, ", "))
	if len(profile.Preferences) > 0 {
		keys := make([]string, 0, len(profile.Preferences))
		for k := range profile.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+profile.Preferences[k])
		}
		fmt.Fprintf(&b, "Preferences: %s\n", strings.Join(pairs, ", "))
	}

	fmt.Fprintf(&b, "\nCandidates (%d):\n", len(candidates))
	for _, d := range candidates {
		fmt.Fprintf(&b, "\n[%s] %s\n%s\n", d.ID, d.Title, strings.TrimSpace(d.Summary))
	}
	return b.String()
}

// parseRanking validates model output against the candidate set and assigns
// 1-based ranks following the model's own ordering. Score breaks ties and
// orders entries the model left unranked.
func parseRanking(raw string, candidates []domain.Digest) ([]domain.RankedItem, int, error) {
	body := stripCodeFence(raw)

	var out rankedOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		var bare []rankedEntry
		if errArr := json.Unmarshal([]byte(body), &bare); errArr != nil {
			return nil, 0, fmt.Errorf("decode ranking: %w", err)
		}
		out.Articles = bare
	}

	byID := make(map[string]int, len(candidates))
	for i, d := range candidates {
		byID[d.ID] = i
	}

	type scored struct {
		entry rankedEntry
		order int
	}
	var (
		kept    []scored
		dropped int
		seen    = map[string]struct{}{}
	)
	for _, entry := range out.Articles {
		entry.DigestID = strings.TrimSpace(entry.DigestID)
		order, ok := byID[entry.DigestID]
		if !ok || math.IsNaN(entry.Score) || math.IsInf(entry.Score, 0) {
			dropped++
			continue
		}
		if _, dup := seen[entry.DigestID]; dup {
			dropped++
			continue
		}
		seen[entry.DigestID] = struct{}{}
		entry.Score = math.Max(0, math.Min(1, entry.Score))
		kept = append(kept, scored{entry: entry, order: order})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if ra, rb := modelRank(a.entry.Rank), modelRank(b.entry.Rank); ra != rb {
			return ra < rb
		}
		if a.entry.Score != b.entry.Score {
			return a.entry.Score > b.entry.Score
		}
		return a.order < b.order
	})

	items := make([]domain.RankedItem, 0, len(kept))
	for i, s := range kept {
		items = append(items, domain.RankedItem{
			Digest:    candidates[s.order],
			Score:     s.entry.Score,
			Rank:      i + 1,
			Reasoning: strings.TrimSpace(s.entry.Reasoning),
		})
	}
	return items, dropped, nil
}

func modelRank(rank int) int {
	if rank <= 0 {
		return math.MaxInt
	}
	return rank
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
