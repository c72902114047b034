package scheduler

import (
	"sort"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.loc)
	jobs := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		jobs = append(jobs, JobInfo{
			Name:         name,
			Spec:         e.expr,
			Next:         e.spec.Next(now),
			Running:      e.running.Load(),
			Runs:         e.runs,
			Skips:        e.skips,
			LastStart:    e.lastStart,
			LastDuration: e.lastDuration,
			LastError:    e.lastErr,
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	return Snapshot{
		Running:    s.running,
		Timezone:   s.loc.String(),
		JobTimeout: s.cfg.JobTimeout,
		Jobs:       jobs,
	}
}
