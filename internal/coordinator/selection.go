package coordinator

import "github.com/marcushq/marcus/internal/board"

// SelectTask ranks the available tasks for an agent and returns the best
// candidate, or nil if nothing is ready. Pure over its inputs: the caller
// supplies the candidate list, the agent's skills, and the set of task ids
// already DONE (for dependency readiness).
//
// Score is priority weight times (1 + skill match). Skill match is the
// fraction of the task's labels the agent covers, so skills are a
// preference, never a gate. Ties break on earlier created_at, then
// lexicographic id.
func SelectTask(available []*board.Task, skills []string, done map[string]bool) *board.Task {
	skillSet := make(map[string]bool, len(skills))
	for _, s := range skills {
		skillSet[s] = true
	}

	var best *board.Task
	var bestScore float64

	for _, t := range available {
		if !ready(t, done) {
			continue
		}

		score := float64(t.Priority.Weight()) * (1 + skillScore(t, skillSet))
		if best == nil || score > bestScore || (score == bestScore && earlier(t, best)) {
			best = t
			bestScore = score
		}
	}
	return best
}

// ready reports whether every dependency of t is DONE.
func ready(t *board.Task, done map[string]bool) bool {
	for _, dep := range t.Dependencies {
		if !done[dep] {
			return false
		}
	}
	return true
}

func skillScore(t *board.Task, skills map[string]bool) float64 {
	if len(t.Labels) == 0 {
		return 0
	}
	matched := 0
	for _, l := range t.Labels {
		if skills[l] {
			matched++
		}
	}
	return float64(matched) / float64(len(t.Labels))
}

func earlier(a, b *board.Task) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
