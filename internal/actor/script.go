package actor

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// scriptEntry is one canned reply in a script file. Payload is any YAML
// value and is sent on as JSON.
type scriptEntry struct {
	Raw     string `yaml:"raw"`
	Payload any    `yaml:"payload"`
	Error   string `yaml:"error"`
}

// LoadScript parses a YAML map of task name to an ordered list of replies
// into a Scripted actor.
func LoadScript(data []byte) (*Scripted, error) {
	var tasks map[string][]scriptEntry
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse actor script: %w", err)
	}
	s := NewScripted()
	for task, entries := range tasks {
		for i, e := range entries {
			switch {
			case e.Error != "":
				s.Fail(task, fmt.Errorf("%s", e.Error))
			case e.Payload != nil:
				data, err := json.Marshal(e.Payload)
				if err != nil {
					return nil, fmt.Errorf("actor script %s[%d]: %w", task, i, err)
				}
				s.push(task, scriptedReply{resp: Response{Task: task, Raw: e.Raw, Payload: data}})
			default:
				s.Reply(task, e.Raw)
			}
		}
	}
	return s, nil
}

func LoadScriptFile(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadScript(data)
}
