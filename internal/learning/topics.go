package learning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Topics 是按首次出现顺序保存的词频表。JSON 编解码保持插入顺序，
// 排名相同的话题因此可以稳定地按首次出现先后排列。
type Topics struct {
	order  []string
	counts map[string]int
}

// TopicCount 是排名结果中的一项。
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// Inc 将话题计数加一，不存在时以 1 插入末尾。
func (t *Topics) Inc(topic string) {
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	if _, ok := t.counts[topic]; !ok {
		t.order = append(t.order, topic)
	}
	t.counts[topic]++
}

// Count 返回话题计数，不存在时为 0。
func (t Topics) Count(topic string) int {
	return t.counts[topic]
}

// Len 返回话题数量。
func (t Topics) Len() int {
	return len(t.order)
}

// Keys 按插入顺序返回话题。
func (t Topics) Keys() []string {
	return append([]string(nil), t.order...)
}

// Top 返回计数最高的 n 个话题，计数相同时先插入者在前。
func (t Topics) Top(n int) []TopicCount {
	ranked := make([]TopicCount, len(t.order))
	for i, topic := range t.order {
		ranked[i] = TopicCount{Topic: topic, Count: t.counts[topic]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Clone 返回深拷贝。
func (t Topics) Clone() Topics {
	clone := Topics{
		order:  append([]string(nil), t.order...),
		counts: make(map[string]int, len(t.counts)),
	}
	for k, v := range t.counts {
		clone.counts[k] = v
	}
	return clone
}

// MarshalJSON 按插入顺序输出对象。
func (t Topics) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, topic := range t.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(topic)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", t.counts[topic])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 逐个读取键以保留顺序，计数小于 1 的条目被丢弃。
func (t *Topics) UnmarshalJSON(data []byte) error {
	t.order = nil
	t.counts = make(map[string]int)
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("learnedTopics 必须是对象")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("learnedTopics 键类型无效")
		}
		var count int
		if err := dec.Decode(&count); err != nil {
			return fmt.Errorf("话题 %q 的计数无效: %w", key, err)
		}
		if count < 1 {
			continue
		}
		if _, exists := t.counts[key]; !exists {
			t.order = append(t.order, key)
		}
		t.counts[key] = count
	}
	_, err = dec.Token()
	return err
}
