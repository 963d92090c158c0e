package remote

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// parseTopics accepts either a bare array or an object with a "topics" array.
func parseTopics(op string, body []byte) ([]RawTopic, error) {
	if !gjson.ValidBytes(body) {
		return nil, &MalformedResponseError{Op: op, Reason: "invalid JSON"}
	}

	root := gjson.ParseBytes(body)
	list := root
	if !root.IsArray() {
		list = root.Get("topics")
		if !root.IsObject() || !list.IsArray() {
			return nil, &MalformedResponseError{Op: op, Reason: "expected topic array"}
		}
	}

	items := list.Array()
	topics := make([]RawTopic, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, &MalformedResponseError{Op: op, Reason: fmt.Sprintf("topic %d is not an object", i)}
		}
		topics = append(topics, rawTopicFrom(item))
	}
	return topics, nil
}

func rawTopicFrom(v gjson.Result) RawTopic {
	t := RawTopic{
		ID:           scalar(v.Get("id")),
		Title:        scalar(v.Get("title")),
		Description:  scalar(v.Get("description")),
		IsCompleted:  v.Get("isCompleted").Bool(),
		Difficulty:   scalar(v.Get("difficulty")),
		TimeEstimate: scalar(v.Get("timeEstimate")),
		Icon:         scalar(v.Get("icon")),
	}
	if p := v.Get("progress"); p.Type == gjson.Number {
		f := p.Float()
		t.Progress = &f
	}
	return t
}

// scalar returns the string form of a string or number, and "" for anything else.
func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.String, gjson.Number:
		return v.String()
	default:
		return ""
	}
}
