package command

import (
	"sync"
	"testing"
)

func TestPreferenceStoreMergeAndClear(t *testing.T) {
	store := NewPreferenceStore()

	if values, err := store.Load("terminal:alice"); err != nil || values != nil {
		t.Fatalf("unset window = %v, %v", values, err)
	}

	_ = store.Save("terminal:alice", ContextValues{"model": "GPT-4o", "lang": "ja"})
	_ = store.Save("terminal:alice", ContextValues{"model": "Claude 3.5 Sonnet"})
	values, _ := store.Load("terminal:alice")
	if values["model"] != "Claude 3.5 Sonnet" || values["lang"] != "ja" {
		t.Fatalf("merged = %v", values)
	}

	// 返回的是副本
	values["model"] = "mutated"
	if again, _ := store.Load("terminal:alice"); again["model"] != "Claude 3.5 Sonnet" {
		t.Fatalf("caller mutation leaked: %v", again)
	}

	// 空值清除单个键
	_ = store.Save("terminal:alice", ContextValues{"model": ""})
	values, _ = store.Load("terminal:alice")
	if _, ok := values["model"]; ok || values["lang"] != "ja" {
		t.Fatalf("after clearing model = %v", values)
	}

	// 清除最后一项后窗口回到未设置状态
	_ = store.Save("terminal:alice", ContextValues{"lang": ""})
	if values, _ := store.Load("terminal:alice"); values != nil {
		t.Fatalf("after clearing all = %v", values)
	}

	// 窗口之间互不影响
	_ = store.Save("terminal:bob", ContextValues{"model": "GPT-4o"})
	if values, _ := store.Load("terminal:alice"); values != nil {
		t.Fatalf("alice sees bob's preferences: %v", values)
	}
}

func TestPreferenceStoreIgnoresEmptyWindow(t *testing.T) {
	store := NewPreferenceStore()
	if err := store.Save("", ContextValues{"model": "GPT-4o"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if values, _ := store.Load(""); values != nil {
		t.Fatalf("empty window = %v", values)
	}

	var nilStore *PreferenceStore
	if values, err := nilStore.Load("terminal:alice"); err != nil || values != nil {
		t.Fatalf("nil store load = %v, %v", values, err)
	}
}

func TestPreferenceStoreConcurrentSave(t *testing.T) {
	store := NewPreferenceStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			label := "GPT-4o"
			if i%2 == 1 {
				label = "Gemini 1.5 Flash"
			}
			_ = store.Save("terminal:alice", ContextValues{"model": label})
			_, _ = store.Load("terminal:alice")
		}(i)
	}
	wg.Wait()
	values, _ := store.Load("terminal:alice")
	if m := values["model"]; m != "GPT-4o" && m != "Gemini 1.5 Flash" {
		t.Fatalf("model = %q", m)
	}
}
