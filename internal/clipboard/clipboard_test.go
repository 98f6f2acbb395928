package clipboard

import "testing"

func TestMockCopyStoresText(t *testing.T) {
	m := NewMock()
	if err := m.Copy("hello world"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if m.Text != "hello world" {
		t.Fatalf("expected stored text %q, got %q", "hello world", m.Text)
	}
}

func TestMockPasteCountsInvocations(t *testing.T) {
	m := NewMock()
	if err := m.Paste(); err != nil {
		t.Fatalf("paste: %v", err)
	}
	if err := m.Paste(); err != nil {
		t.Fatalf("paste: %v", err)
	}
	if m.PasteCalled != 2 {
		t.Fatalf("expected 2 paste calls recorded, got %d", m.PasteCalled)
	}
}
