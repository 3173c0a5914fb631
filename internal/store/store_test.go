package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mailroom/mailroom/internal/store"
	"github.com/mailroom/mailroom/internal/testutil"
)

func TestMailboxes(t *testing.T) {
	st := testutil.NewTestStore(t)

	list, err := st.ListMailboxes()
	testutil.MustNoErr(t, err, "ListMailboxes")
	if list == nil || len(list) != 0 {
		t.Errorf("empty registry = %#v, want empty non-nil slice", list)
	}

	_, err = st.AddMailbox("zed@example.com")
	testutil.MustNoErr(t, err, "AddMailbox zed")
	list, err = st.AddMailbox("  amy@example.com ")
	testutil.MustNoErr(t, err, "AddMailbox amy")
	testutil.AssertStrings(t, list, "amy@example.com", "zed@example.com")

	_, err = st.AddMailbox("amy@example.com")
	testutil.AssertErrorIs(t, err, store.ErrMailboxExists)

	ok, err := st.HasMailbox("amy@example.com")
	testutil.MustNoErr(t, err, "HasMailbox")
	if !ok {
		t.Error("HasMailbox(amy) = false")
	}

	list, err = st.RemoveMailbox("zed@example.com")
	testutil.MustNoErr(t, err, "RemoveMailbox")
	testutil.AssertStrings(t, list, "amy@example.com")

	_, err = st.RemoveMailbox("zed@example.com")
	testutil.AssertErrorIs(t, err, store.ErrMailboxNotFound)
}

func TestSettingsAndPrefs(t *testing.T) {
	st := testutil.NewTestStore(t)

	_, err := st.GetSetting("theme")
	testutil.AssertErrorIs(t, err, store.ErrNotFound)

	prefs := st.Prefs()
	v, err := prefs.Get("theme")
	testutil.MustNoErr(t, err, "Prefs.Get")
	if v != "" {
		t.Errorf("unset pref = %q, want empty", v)
	}

	testutil.MustNoErr(t, prefs.Set("theme", "dark"), "Set")
	testutil.MustNoErr(t, prefs.Set("theme", "light"), "Set again")
	v, err = st.GetSetting("theme")
	testutil.MustNoErr(t, err, "GetSetting")
	if v != "light" {
		t.Errorf("theme = %q, want light", v)
	}

	testutil.MustNoErr(t, prefs.Clear("theme"), "Clear")
	testutil.MustNoErr(t, prefs.Clear("theme"), "Clear missing")
	if v, _ := prefs.Get("theme"); v != "" {
		t.Errorf("cleared pref = %q", v)
	}
}

func TestAnalyticsCache(t *testing.T) {
	st := testutil.NewTestStore(t)

	_, _, err := st.LoadAnalytics("notion")
	testutil.AssertErrorIs(t, err, store.ErrNotFound)

	at := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	testutil.MustNoErr(t, st.SaveAnalytics("notion", []byte(`{"rows":[]}`), at), "SaveAnalytics")
	testutil.MustNoErr(t, st.SaveAnalytics("notion", []byte(`{"rows":[1]}`), at.Add(time.Hour)), "SaveAnalytics again")

	payload, refreshed, err := st.LoadAnalytics("notion")
	testutil.MustNoErr(t, err, "LoadAnalytics")
	if string(payload) != `{"rows":[1]}` {
		t.Errorf("payload = %s", payload)
	}
	if !refreshed.Equal(at.Add(time.Hour)) {
		t.Errorf("refreshed = %v, want %v", refreshed, at.Add(time.Hour))
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mailroom.db")
	st, err := store.Open(path)
	testutil.MustNoErr(t, err, "Open")
	_, err = st.AddMailbox("ops@example.com")
	testutil.MustNoErr(t, err, "AddMailbox")
	testutil.MustNoErr(t, st.Close(), "Close")

	st, err = store.Open(path)
	testutil.MustNoErr(t, err, "reopen")
	defer st.Close()
	list, err := st.ListMailboxes()
	testutil.MustNoErr(t, err, "ListMailboxes")
	testutil.AssertStrings(t, list, "ops@example.com")
	if st.Path() != path {
		t.Errorf("Path() = %q", st.Path())
	}
}
