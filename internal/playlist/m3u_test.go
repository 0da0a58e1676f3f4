// SPDX-License-Identifier: MIT

package playlist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseM3U_Basic(t *testing.T) {
	const src = "#EXTM3U\n" +
		"#EXTINF:-1 group-title=\"News\" tvg-id=\"bbc1\",BBC One\n" +
		"http://x/1\n"

	channels, _, err := ParseM3U(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, channels, 1)

	ch := channels[0]
	assert.Equal(t, "epg:bbc1", ch.ID)
	assert.Equal(t, "BBC One", ch.Name)
	assert.Equal(t, "News", ch.Group)
	assert.Equal(t, "http://x/1", ch.StreamURL)
	assert.Equal(t, "bbc1", ch.EPGID)
}

func TestParseM3U_HeaderGuideURL(t *testing.T) {
	const src = "#EXTM3U url-tvg=\"http://epg.example/xmltv.php\"\n" +
		"#EXTINF:-1,Ch\nhttp://x/1\n"

	_, header, err := ParseM3U(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "http://epg.example/xmltv.php", header.GuideURL)
}

func TestParseM3U_MalformedQuoting(t *testing.T) {
	// stray escaped quote inside the group title, bare attribute value
	const src = "#EXTM3U\n" +
		`#EXTINF:-1 group-title="Bob\"s Movies" tvg-logo=http://x/l.png tvg-id="m1",Movie One` + "\n" +
		"http://x/m1\n"

	channels, _, err := ParseM3U(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, `Bob"s Movies`, channels[0].Group)
	assert.Equal(t, "http://x/l.png", channels[0].LogoURL)
	assert.Equal(t, "Movie One", channels[0].Name)
}

func TestParseM3U_NameAfterLastComma(t *testing.T) {
	const src = "#EXTM3U\n" +
		`#EXTINF:-1 tvg-name="Alt, Name" group-title="A,B",Real Name` + "\n" +
		"http://x/1\n"

	channels, _, err := ParseM3U(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "Real Name", channels[0].Name)
}

func TestParseM3U_SkipsOrphans(t *testing.T) {
	const src = "#EXTM3U\n" +
		"#EXTINF:-1,Orphaned A\n" + // replaced by the next EXTINF
		"#EXTINF:-1,Kept\n" +
		"http://x/kept\n" +
		"http://x/bare-url-no-meta\n" + // ignored
		"#EXTINF:-1,Trailing orphan\n"

	channels, _, err := ParseM3U(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "Kept", channels[0].Name)
}

func TestParseM3U_DedupByID(t *testing.T) {
	const src = "#EXTM3U\n" +
		"#EXTINF:-1 tvg-id=\"bbc1\",BBC One\nhttp://x/1\n" +
		"#EXTINF:-1 tvg-id=\"bbc1\",BBC One Backup\nhttp://x/2\n" +
		"#EXTINF:-1,No ID\nhttp://x/3\n" +
		"#EXTINF:-1,No ID Again\nhttp://x/3\n"

	channels, _, err := ParseM3U(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "BBC One", channels[0].Name, "first occurrence wins")
}

func TestChannelID_Deterministic(t *testing.T) {
	assert.Equal(t, "epg:bbc1", ChannelID("bbc1", "http://x/1"))
	assert.Equal(t, ChannelID("", "http://x/1"), ChannelID("", "http://x/1"))
	assert.NotEqual(t, ChannelID("", "http://x/1"), ChannelID("", "http://x/2"))
}

func TestGroupByCategory(t *testing.T) {
	channels := []Channel{
		{ID: "1", Group: "News"},
		{ID: "2", Group: "Sports"},
		{ID: "3", Group: "News"},
		{ID: "4"},
	}
	grouped, order := GroupByCategory(channels)
	assert.Equal(t, []string{"News", "Sports", "Other"}, order)
	assert.Len(t, grouped["News"], 2)
	assert.Len(t, grouped["Other"], 1)
}

func FuzzParseM3U(f *testing.F) {
	f.Add("#EXTM3U\n#EXTINF:-1 tvg-id=\"a\",Name\nhttp://x/1\n")
	f.Add("#EXTINF:-1 group-title=\"Bob\\\"s\",X\nhttp://y\n")
	f.Add("#EXTM3U url-tvg=http://e\n")
	f.Fuzz(func(t *testing.T, src string) {
		channels, _, err := ParseM3U(strings.NewReader(src))
		if err != nil {
			return
		}
		seen := map[string]bool{}
		for _, ch := range channels {
			if ch.ID == "" {
				t.Fatalf("channel with empty id: %+v", ch)
			}
			if seen[ch.ID] {
				t.Fatalf("duplicate id after dedupe: %s", ch.ID)
			}
			seen[ch.ID] = true
		}
	})
}
