package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trialworks/venire/internal/capability"
	"github.com/trialworks/venire/internal/types"
)

const (
	// Personas whose probabilities sit within this margin of each other are
	// considered ambiguous and worth separating with a question.
	ambiguityThreshold = 0.20

	// Only the top ranked personas are examined for ambiguity.
	ambiguityTopN = 3

	// Pool cap on discriminating signals across all ambiguous pairs.
	maxDiscriminatingSignals = 10

	// assumedEntropyReduction is the fixed heuristic share of a pair's
	// binary entropy a good question is expected to remove. Tunable; it is
	// not derived from response-distribution modeling.
	assumedEntropyReduction = 0.30

	questionsPerCategory = 3
	maxPanelQuestions    = 20
)

// QuestionGenerator derives ranked, human-phrasable voir dire questions from
// the ambiguity structure of a juror's (or panel's) persona distribution.
type QuestionGenerator struct {
	store     Store
	matcher   *Matcher
	generator capability.Generator
}

// NewQuestionGenerator creates a question generator
func NewQuestionGenerator(store Store, matcher *Matcher, generator capability.Generator) *QuestionGenerator {
	return &QuestionGenerator{store: store, matcher: matcher, generator: generator}
}

// ambiguousPair is a persona pair a juror's distribution cannot separate.
type ambiguousPair struct {
	PersonaA string
	PersonaB string
	ProbA    float64
	ProbB    float64
}

// GenerateForJuror produces ranked discriminative questions for one juror.
// Fewer than two candidate personas means no question is needed; that is an
// empty result, not an error.
func (q *QuestionGenerator) GenerateForJuror(ctx context.Context, jurorID string) ([]DiscriminativeQuestion, error) {
	personaIDs, err := q.store.ListPersonaIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(personaIDs) < 2 {
		return nil, nil
	}

	matches, err := q.matcher.MatchJuror(ctx, jurorID, personaIDs)
	if err != nil {
		return nil, err
	}
	if len(matches) < 2 {
		return nil, nil
	}

	pairs := ambiguousPairs(matches)
	if len(pairs) == 0 {
		return nil, nil
	}

	observed, err := observedSignalSet(ctx, q.store, jurorID)
	if err != nil {
		return nil, err
	}

	signals, err := q.pooledDiscriminatingSignals(ctx, pairs, observed)
	if err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return nil, nil
	}

	questions, err := q.synthesizeQuestions(ctx, signals, pairs)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Priority > questions[j].Priority
	})

	return questions, nil
}

// GenerateForPanel runs ambiguity detection independently for every juror on
// the case, keeps only pairs ambiguous for more than one juror, and boosts
// those questions' priority by how many jurors share the ambiguity.
func (q *QuestionGenerator) GenerateForPanel(ctx context.Context, caseID string) ([]DiscriminativeQuestion, error) {
	jurors, err := q.store.ListJurorsByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if len(jurors) == 0 {
		return nil, nil
	}

	personaIDs, err := q.store.ListPersonaIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(personaIDs) < 2 {
		return nil, nil
	}

	// Per-juror ambiguity detection fans out; each branch fills its own slot.
	pairsByJuror := make([][]ambiguousPair, len(jurors))
	g, gctx := errgroup.WithContext(ctx)
	for i := range jurors {
		g.Go(func() error {
			matches, err := q.matcher.MatchJuror(gctx, jurors[i].ID, personaIDs)
			if err != nil {
				slog.Warn("Panel match failed for juror, skipping",
					"juror_id", jurors[i].ID, "error", err)
				return nil
			}
			pairsByJuror[i] = ambiguousPairs(matches)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type sharedPair struct {
		pair   ambiguousPair
		jurors []string
	}
	shared := make(map[string]*sharedPair)
	for i, pairs := range pairsByJuror {
		for _, p := range pairs {
			key := pairKey(p.PersonaA, p.PersonaB)
			entry, ok := shared[key]
			if !ok {
				entry = &sharedPair{pair: p}
				shared[key] = entry
			}
			entry.jurors = append(entry.jurors, jurors[i].ID)
		}
	}

	var questions []DiscriminativeQuestion
	for _, entry := range shared {
		if len(entry.jurors) < 2 {
			continue
		}

		// Candidate signals are those not yet observed for every sharing
		// juror; a signal one juror already answered still helps the rest.
		observedByAll, err := q.observedByAllJurors(ctx, entry.jurors)
		if err != nil {
			return nil, err
		}

		signals, err := q.pooledDiscriminatingSignals(ctx, []ambiguousPair{entry.pair}, observedByAll)
		if err != nil {
			return nil, err
		}
		if len(signals) == 0 {
			continue
		}

		pairQuestions, err := q.synthesizeQuestions(ctx, signals, []ambiguousPair{entry.pair})
		if err != nil {
			return nil, err
		}

		boost := float64(len(entry.jurors))
		for i := range pairQuestions {
			pairQuestions[i].Priority *= boost
			pairQuestions[i].JurorIDs = entry.jurors
		}
		questions = append(questions, pairQuestions...)
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Priority > questions[j].Priority
	})

	if len(questions) > maxPanelQuestions {
		questions = questions[:maxPanelQuestions]
	}

	return questions, nil
}

func (q *QuestionGenerator) observedByAllJurors(ctx context.Context, jurorIDs []string) (map[string]bool, error) {
	counts := make(map[string]int)
	for _, jurorID := range jurorIDs {
		observed, err := observedSignalSet(ctx, q.store, jurorID)
		if err != nil {
			return nil, err
		}
		for id := range observed {
			counts[id]++
		}
	}

	all := make(map[string]bool)
	for id, n := range counts {
		if n == len(jurorIDs) {
			all[id] = true
		}
	}
	return all, nil
}

// ambiguousPairs finds pairs among the top ranked personas whose
// probabilities differ by less than the ambiguity threshold.
func ambiguousPairs(matches []EnsembleMatch) []ambiguousPair {
	top := matches
	if len(top) > ambiguityTopN {
		top = top[:ambiguityTopN]
	}

	var pairs []ambiguousPair
	for i := 0; i < len(top); i++ {
		for j := i + 1; j < len(top); j++ {
			if math.Abs(top[i].Probability-top[j].Probability) < ambiguityThreshold {
				pairs = append(pairs, ambiguousPair{
					PersonaA: top[i].PersonaID,
					PersonaB: top[j].PersonaID,
					ProbA:    top[i].Probability,
					ProbB:    top[j].Probability,
				})
			}
		}
	}
	return pairs
}

// pooledDiscriminatingSignals scans each ambiguous pair concurrently and
// pools the strongest signals across all pairs.
func (q *QuestionGenerator) pooledDiscriminatingSignals(ctx context.Context, pairs []ambiguousPair, observed map[string]bool) ([]discriminatingSignal, error) {
	perPair := make([][]discriminatingSignal, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	for i := range pairs {
		g.Go(func() error {
			signals, err := discriminatingSignalsForPair(gctx, q.store, pairs[i].PersonaA, pairs[i].PersonaB, observed)
			if err != nil {
				return err
			}
			perPair[i] = signals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pooled []discriminatingSignal
	for _, signals := range perPair {
		pooled = append(pooled, signals...)
	}

	sort.SliceStable(pooled, func(i, j int) bool {
		return pooled[i].Power > pooled[j].Power
	})

	if len(pooled) > maxDiscriminatingSignals {
		pooled = pooled[:maxDiscriminatingSignals]
	}

	return pooled, nil
}

// synthesizeQuestions groups discriminating signals by catalog category and
// phrases questions per group, via the text-generation capability with a
// deterministic template fallback.
func (q *QuestionGenerator) synthesizeQuestions(ctx context.Context, signals []discriminatingSignal, pairs []ambiguousPair) ([]DiscriminativeQuestion, error) {
	ids := make([]string, 0, len(signals))
	for _, s := range signals {
		ids = append(ids, s.SignalID)
	}

	catalog, err := q.store.GetSignals(ctx, ids)
	if err != nil {
		return nil, err
	}

	byCategory := make(map[types.SignalCategory][]discriminatingSignal)
	for _, s := range signals {
		category := types.SignalCategory("general")
		if sig, ok := catalog[s.SignalID]; ok {
			category = sig.Category
		}
		byCategory[category] = append(byCategory[category], s)
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)

	pairLookup := make(map[string]ambiguousPair, len(pairs))
	for _, p := range pairs {
		pairLookup[pairKey(p.PersonaA, p.PersonaB)] = p
	}

	var questions []DiscriminativeQuestion
	for _, c := range categories {
		category := types.SignalCategory(c)
		group := byCategory[category]

		phrased := q.phraseCategory(ctx, category, group, catalog)

		limit := questionsPerCategory
		if len(phrased) < limit {
			limit = len(phrased)
		}

		for i := 0; i < limit; i++ {
			dq := phrased[i]
			dq.ID = uuid.New().String()
			dq.Category = category
			dq.Targets = questionTargets(group, pairLookup)
			dq.Interpretations = responseInterpretations(group)
			dq.Priority = questionPriority(dq.Targets)
			questions = append(questions, dq)
		}
	}

	return questions, nil
}

// questionTargets carries back the persona pairs a question addresses plus
// the estimated information gain from asking it.
func questionTargets(group []discriminatingSignal, pairLookup map[string]ambiguousPair) []PersonaPairTarget {
	seen := make(map[string]bool)
	var targets []PersonaPairTarget

	for _, s := range group {
		key := pairKey(s.PersonaA, s.PersonaB)
		if seen[key] {
			continue
		}
		seen[key] = true

		gain := 0.0
		if pair, ok := pairLookup[key]; ok {
			gain = assumedEntropyReduction * pairBinaryEntropy(pair.ProbA, pair.ProbB)
		}

		targets = append(targets, PersonaPairTarget{
			PersonaA:                s.PersonaA,
			PersonaB:                s.PersonaB,
			ExpectedInformationGain: gain,
		})
	}

	return targets
}

// responseInterpretations explains how each answer moves each implicated
// persona's probability.
func responseInterpretations(group []discriminatingSignal) []ResponseInterpretation {
	affirmative := ResponseInterpretation{Answer: "affirmative"}
	negative := ResponseInterpretation{Answer: "negative"}

	seen := make(map[string]bool)
	addShift := func(interp *ResponseInterpretation, personaID, direction string) {
		key := interp.Answer + ":" + personaID
		if seen[key] {
			return
		}
		seen[key] = true
		interp.Shifts = append(interp.Shifts, ProbabilityShift{PersonaID: personaID, Direction: direction})
	}

	for _, s := range group {
		if s.WeightA > 0 {
			addShift(&affirmative, s.PersonaA, "up")
			addShift(&negative, s.PersonaA, "down")
		} else if s.WeightA < 0 {
			addShift(&affirmative, s.PersonaA, "down")
			addShift(&negative, s.PersonaA, "up")
		}

		if s.WeightB > 0 {
			addShift(&affirmative, s.PersonaB, "up")
			addShift(&negative, s.PersonaB, "down")
		} else if s.WeightB < 0 {
			addShift(&affirmative, s.PersonaB, "down")
			addShift(&negative, s.PersonaB, "up")
		}
	}

	return []ResponseInterpretation{affirmative, negative}
}

// questionPriority is the estimated entropy reduction: the assumed fixed
// share of the strongest target pair's binary entropy.
func questionPriority(targets []PersonaPairTarget) float64 {
	best := 0.0
	for _, t := range targets {
		if t.ExpectedInformationGain > best {
			best = t.ExpectedInformationGain
		}
	}
	return best
}

// pairBinaryEntropy normalizes the two probabilities against each other and
// returns the Shannon entropy of the resulting two-outcome distribution.
func pairBinaryEntropy(probA, probB float64) float64 {
	sum := probA + probB
	if sum == 0 {
		return 0
	}

	p := probA / sum
	q := 1 - p

	entropy := 0.0
	if p > 0 {
		entropy -= p * math.Log2(p)
	}
	if q > 0 {
		entropy -= q * math.Log2(q)
	}
	return entropy
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// --- phrasing ---

type generatedQuestion struct {
	Question  string   `json:"question"`
	FollowUps []string `json:"follow_ups"`
}

// phraseCategory asks the text-generation capability for question phrasings
// covering the category's signals. Malformed or failed generations fall back
// to fixed templates keyed by signal-ID prefix.
func (q *QuestionGenerator) phraseCategory(ctx context.Context, category types.SignalCategory, group []discriminatingSignal, catalog map[string]types.Signal) []DiscriminativeQuestion {
	signalIDs := make([]string, 0, len(group))
	signalNames := make([]string, 0, len(group))
	for _, s := range group {
		signalIDs = append(signalIDs, s.SignalID)
		name := s.SignalID
		if sig, ok := catalog[s.SignalID]; ok {
			name = sig.Name
		}
		signalNames = append(signalNames, name)
	}

	if q.generator != nil {
		if questions := q.generateQuestions(ctx, category, signalIDs, signalNames); len(questions) > 0 {
			return questions
		}
	}

	return templateQuestions(signalIDs, signalNames)
}

func (q *QuestionGenerator) generateQuestions(ctx context.Context, category types.SignalCategory, signalIDs, signalNames []string) []DiscriminativeQuestion {
	prompt := fmt.Sprintf(`You are helping an attorney prepare voir dire questions.
Write 2-3 open, neutral questions a lawyer could ask prospective jurors to learn about the following %s traits: %s.
Respond with ONLY a JSON array of objects shaped like {"question": "...", "follow_ups": ["..."]}.`,
		category, strings.Join(signalNames, ", "))

	raw, err := q.generator.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("Question generation failed, using templates",
			"category", category, "error", err)
		return nil
	}

	parsed, err := parseGeneratedQuestions(raw)
	if err != nil {
		slog.Warn("Generated questions unparseable, using templates",
			"category", category, "error", err)
		return nil
	}

	questions := make([]DiscriminativeQuestion, 0, len(parsed))
	for _, g := range parsed {
		if strings.TrimSpace(g.Question) == "" {
			continue
		}
		questions = append(questions, DiscriminativeQuestion{
			Question:  strings.TrimSpace(g.Question),
			FollowUps: g.FollowUps,
			SignalIDs: signalIDs,
		})
	}
	return questions
}

// parseGeneratedQuestions decodes model output defensively: code fences are
// stripped and the first JSON array in the text is used.
func parseGeneratedQuestions(raw string) ([]generatedQuestion, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in generated text")
	}

	var parsed []generatedQuestion
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode generated questions: %w", err)
	}

	if len(parsed) == 0 {
		return nil, fmt.Errorf("generated question list is empty")
	}

	return parsed, nil
}

// questionTemplates maps signal-ID prefixes to fixed fallback phrasings.
var questionTemplates = map[string]string{
	"OCCUPATION_": "Can you tell us about your work and what a typical day looks like for you?",
	"MEDIA_":      "Where do you usually get your news, and how closely do you follow it?",
	"AUTHORITY_":  "How do you generally feel about figures of authority, such as police officers or government officials?",
	"PRIOR_":      "Have you or anyone close to you had experiences with the court system before?",
	"COMMUNITY_":  "Are you involved in any community organizations, volunteer work, or local groups?",
	"FAMILY_":     "Can you tell us a little about your household and family situation?",
}

// templateQuestions is the deterministic fallback when generation fails or
// returns unusable output.
func templateQuestions(signalIDs, signalNames []string) []DiscriminativeQuestion {
	seen := make(map[string]bool)
	var questions []DiscriminativeQuestion

	for i, id := range signalIDs {
		text := ""
		for prefix, template := range questionTemplates {
			if strings.HasPrefix(id, prefix) {
				text = template
				break
			}
		}
		if text == "" {
			text = fmt.Sprintf("Can you share your thoughts or experiences regarding %s?",
				strings.ToLower(signalNames[i]))
		}

		if seen[text] {
			continue
		}
		seen[text] = true

		questions = append(questions, DiscriminativeQuestion{
			Question:  text,
			SignalIDs: signalIDs,
		})
	}

	return questions
}
