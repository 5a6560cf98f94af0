package workflow

import (
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/secbot-io/secbot/common/secerr"
)

// MatchingJob selects the single job matching the given input source and
// event payload. A nil job with a nil error means no job matched; the
// event is accepted and ignored. More than one match is a configuration
// error.
func (c *Config) MatchingJob(inputName string, payload []byte) (*Job, error) {
	var matched []*Job
	for i := range c.jobs[inputName] {
		job := &c.jobs[inputName][i]
		ok, err := job.matches(payload)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, job)
		}
	}

	if len(matched) > 1 {
		return nil, secerr.Newf(secerr.KindConfig, "multiple jobs found for input %s", inputName)
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return matched[0], nil
}

// JobsForInput returns all jobs declared for an input source.
func (c *Config) JobsForInput(inputName string) []Job {
	return c.jobs[inputName]
}

func (j *Job) matches(payload []byte) (bool, error) {
	for path, rule := range j.Rules {
		value := gjson.GetBytes(payload, path)
		if !value.Exists() {
			return false, nil
		}
		ok, err := fullMatch(rule, value.String())
		if err != nil {
			return false, secerr.Wrap(secerr.KindConfig, "invalid rule regex", err)
		}
		if !ok {
			return false, nil
		}
	}

	if j.Condition != nil {
		return j.Condition.Eval(payload)
	}
	return true, nil
}

// fullMatch requires the regex to consume the whole value; a partial match
// does not select a job.
func fullMatch(rule, value string) (bool, error) {
	re, err := regexp.Compile("^(?:" + rule + ")$")
	if err != nil {
		return false, err
	}
	return re.MatchString(value), nil
}
