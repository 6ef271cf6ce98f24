package external

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "02-01-2006"

// PersonalData is the lecturer's schedule narrowed to the time span the query names
type PersonalData struct {
	Lecturer      Lecturer                   `json:"lecturer_info"`
	Summary       ScheduleSummary            `json:"schedule_summary"`
	DailySchedule map[string][]ScheduleEntry `json:"daily_schedule"`
	Query         string                     `json:"query_context"`
	ProcessedAt   time.Time                  `json:"processed_at"`
}

type ScheduleSummary struct {
	TotalClasses   int    `json:"total_classes"`
	FirstDate      string `json:"first_date,omitempty"`
	LastDate       string `json:"last_date,omitempty"`
	UniqueSubjects int    `json:"unique_subjects"`
	TotalPeriods   int    `json:"total_periods"`
}

// Dates returns the schedule's days in calendar order
func (p *PersonalData) Dates() []string {
	dates := make([]string, 0, len(p.DailySchedule))
	for d := range p.DailySchedule {
		dates = append(dates, d)
	}
	sortDates(dates)
	return dates
}

// BuildPersonalData keeps the lecturer's own entries, groups them by day and
// applies the query's time filter. The summary covers the unfiltered schedule.
func BuildPersonalData(lecturer Lecturer, entries []ScheduleEntry, query string, now time.Time) *PersonalData {
	daily := map[string][]ScheduleEntry{}
	subjects := map[string]struct{}{}
	summary := ScheduleSummary{}

	for _, e := range entries {
		if e.LecturerID != lecturer.ID {
			continue
		}
		summary.TotalClasses++
		summary.TotalPeriods += e.Periods
		subjects[e.SubjectCode] = struct{}{}
		if e.Date != "" {
			daily[e.Date] = append(daily[e.Date], e)
		}
	}
	summary.UniqueSubjects = len(subjects)

	dates := make([]string, 0, len(daily))
	for d, list := range daily {
		sort.SliceStable(list, func(i, j int) bool { return list[i].StartPeriod < list[j].StartPeriod })
		dates = append(dates, d)
	}
	sortDates(dates)
	if len(dates) > 0 {
		summary.FirstDate = dates[0]
		summary.LastDate = dates[len(dates)-1]
	}

	return &PersonalData{
		Lecturer:      lecturer,
		Summary:       summary,
		DailySchedule: FilterByQuery(daily, query, now),
		Query:         query,
		ProcessedAt:   now,
	}
}

type spanRule struct {
	patterns []string
	dates    func(now time.Time) []string
}

// checked in order, the first match wins
var (
	compoundSpans = []spanRule{
		{[]string{"tuần sau nữa", "tuan sau nua", "2 tuần tới", "2 tuan toi"}, func(n time.Time) []string { return weekDates(n, 2) }},
		{[]string{"cuối tuần này", "cuoi tuan nay", "cuối tuần", "weekend"}, weekendDates},
		{[]string{"đầu tuần sau", "dau tuan sau"}, func(n time.Time) []string { return weekDates(n, 1)[:3] }},
	}
	basicSpans = []spanRule{
		{[]string{"tuần này", "tuan nay", "this week"}, func(n time.Time) []string { return weekDates(n, 0) }},
		{[]string{"tuần tới", "tuan toi", "tuần sau", "tuan sau", "next week"}, func(n time.Time) []string { return weekDates(n, 1) }},
		{[]string{"hôm nay", "hom nay", "today"}, func(n time.Time) []string { return []string{n.Format(dateLayout)} }},
		{[]string{"ngày mai", "ngay mai", "tomorrow"}, func(n time.Time) []string { return []string{n.AddDate(0, 0, 1).Format(dateLayout)} }},
	}

	weeksAhead   = regexp.MustCompile(`(\d+)\s*tuần\s*(?:tới|sau|tiếp theo)`)
	dayMonth     = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})`)
	weekdayNames = []struct {
		pattern *regexp.Regexp
		weekday time.Weekday
	}{
		{wordPattern("thứ 2", "thu 2", "thứ hai", "thu hai", "monday"), time.Monday},
		{wordPattern("thứ 3", "thu 3", "thứ ba", "thu ba", "tuesday"), time.Tuesday},
		{wordPattern("thứ 4", "thu 4", "thứ tư", "thu tu", "wednesday"), time.Wednesday},
		{wordPattern("thứ 5", "thu 5", "thứ năm", "thu nam", "thursday"), time.Thursday},
		{wordPattern("thứ 6", "thu 6", "thứ sáu", "thu sau", "friday"), time.Friday},
		{wordPattern("thứ 7", "thu 7", "thứ bảy", "thu bay", "saturday"), time.Saturday},
		{wordPattern("chủ nhật", "chu nhat", "sunday"), time.Sunday},
	}

	timeModifiers    = []string{"tuần này", "tuần sau", "tuần tới", "tới", "nay", "sau", "next", "this"}
	scheduleWords    = []string{"lịch", "tkb", "thời khóa biểu", "schedule"}
	ordinalWords     = []string{"lần", "vi phạm", "hạng", "điều"}
	generalTimeWords = []string{"tuần", "tuan", "week", "hôm nay", "hom nay", "ngày mai", "ngay mai"}
)

// FilterByQuery narrows a day-keyed schedule to the span named in the query.
// A query naming no span gets the whole schedule back.
func FilterByQuery(schedule map[string][]ScheduleEntry, query string, now time.Time) map[string][]ScheduleEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return schedule
	}

	for _, rule := range compoundSpans {
		if containsAny(q, rule.patterns) {
			return keepDates(schedule, rule.dates(now))
		}
	}

	if m := weeksAhead.FindStringSubmatch(q); m != nil {
		n, _ := strconv.Atoi(m[1])
		return keepDates(schedule, weekDates(now, n))
	}

	for _, rule := range basicSpans {
		if containsAny(q, rule.patterns) {
			return keepDates(schedule, rule.dates(now))
		}
	}

	// weekday names double as ordinals ("lần thứ 2"), so they need schedule context
	for _, wd := range weekdayNames {
		if !wd.pattern.MatchString(q) {
			continue
		}
		hasContext := containsAny(q, timeModifiers) || containsAny(q, scheduleWords)
		if hasContext && !containsAny(q, ordinalWords) {
			return keepDates(schedule, []string{nextWeekday(now, wd.weekday).Format(dateLayout)})
		}
	}

	if m := dayMonth.FindStringSubmatch(q); m != nil {
		short := len(strings.Fields(q)) <= 10
		if !(short && containsAny(q, generalTimeWords)) {
			day, _ := strconv.Atoi(m[1])
			month, _ := strconv.Atoi(m[2])
			if d, ok := validDate(now.Year(), month, day, now.Location()); ok {
				return keepDates(schedule, []string{d.Format(dateLayout)})
			}
		}
	}

	return schedule
}

func keepDates(schedule map[string][]ScheduleEntry, dates []string) map[string][]ScheduleEntry {
	out := map[string][]ScheduleEntry{}
	for _, d := range dates {
		if entries, ok := schedule[d]; ok {
			out[d] = entries
		}
	}
	return out
}

// weekDates lists Monday..Sunday of the week n weeks after the current one
func weekDates(now time.Time, n int) []string {
	offset := (int(now.Weekday()) + 6) % 7
	monday := now.AddDate(0, 0, -offset+7*n)
	dates := make([]string, 7)
	for i := range dates {
		dates[i] = monday.AddDate(0, 0, i).Format(dateLayout)
	}
	return dates
}

func weekendDates(now time.Time) []string {
	saturday := now.AddDate(0, 0, (int(time.Saturday)-int(now.Weekday())+7)%7)
	if now.Weekday() == time.Sunday {
		saturday = now.AddDate(0, 0, -1)
	}
	return []string{saturday.Format(dateLayout), saturday.AddDate(0, 0, 1).Format(dateLayout)}
}

// nextWeekday is today when today already matches
func nextWeekday(now time.Time, wd time.Weekday) time.Time {
	return now.AddDate(0, 0, (int(wd)-int(now.Weekday())+7)%7)
}

func validDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func sortDates(dates []string) {
	sort.Slice(dates, func(i, j int) bool {
		a, errA := time.Parse(dateLayout, dates[i])
		b, errB := time.Parse(dateLayout, dates[j])
		if errA != nil || errB != nil {
			return dates[i] < dates[j]
		}
		return a.Before(b)
	})
}

func wordPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?:^|[^\p{L}\p{N}])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}])`)
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
