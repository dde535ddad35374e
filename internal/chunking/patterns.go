package chunking

import "regexp"

var (
	codeFencePattern = regexp.MustCompile("```")
	filePathPattern  = regexp.MustCompile(`(?:[\w.\-/]+/)?[\w\-]+\.[a-zA-Z0-9]{1,8}\b`)

	// topicShiftPatterns mark an explicit change of subject.
	topicShiftPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(now|anyway|switching to|let's move on|different question|unrelated)`),
		regexp.MustCompile(`(?i)(new topic|separate issue|off.?topic|changing subjects?)`),
	}

	// continuationPatterns mark an explicit continuation of the same subject.
	continuationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(also|additionally|furthermore|continuing|building on|and also)`),
		regexp.MustCompile(`(?i)(same (issue|file|function|bug)|as (before|above|discussed))`),
	}
)
