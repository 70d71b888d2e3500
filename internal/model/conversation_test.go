package model

import "testing"

func TestDirectKey_Unordered(t *testing.T) {
	if DirectKey("alice", "bob") != DirectKey("bob", "alice") {
		t.Error("用戶對順序不應影響鍵")
	}
}

func TestDirectKey_SeparatorInUserID(t *testing.T) {
	pairs := [][2]string{
		{"a", "b:c"},
		{"a:b", "c"},
		{"a|b", "c"},
		{"a", "b|c"},
		{"1:a", "b"},
		{"1", "a|b"},
	}
	seen := make(map[string][2]string)
	for _, p := range pairs {
		key := DirectKey(p[0], p[1])
		if prev, ok := seen[key]; ok {
			t.Errorf("%v 與 %v 產生相同的鍵 %q", p, prev, key)
		}
		seen[key] = p
	}
}
