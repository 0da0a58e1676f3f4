// SPDX-License-Identifier: MIT

package epg

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsetv/pulse/internal/playlist"
)

func xmltvDoc(now time.Time) string {
	f := func(t time.Time) string { return t.UTC().Format("20060102150405 +0000") }
	return `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="BBC1"><display-name>BBC One</display-name><display-name>BBC 1</display-name></channel>
  <channel id="xyz.9"><display-name>Sky Sports Main Event HD</display-name></channel>
  <programme channel="BBC1" start="` + f(now.Add(-30*time.Minute)) + `" stop="` + f(now.Add(30*time.Minute)) + `">
    <title>News at Eight</title>
    <desc>Headlines &amp; weather</desc>
  </programme>
  <programme channel="BBC1" start="` + f(now.Add(30*time.Minute)) + `" stop="` + f(now.Add(90*time.Minute)) + `">
    <title>Drama Hour</title>
  </programme>
  <programme channel="BBC1" start="` + f(now.Add(-5*time.Hour)) + `" stop="` + f(now.Add(-4*time.Hour)) + `">
    <title>Stale Morning Show</title>
  </programme>
  <programme channel="xyz.9" start="` + f(now.Add(-10*time.Minute)) + `" stop="` + f(now.Add(80*time.Minute)) + `">
    <title>Big Match</title>
  </programme>
</tv>`
}

func parserChannels() []playlist.Channel {
	return []playlist.Channel{
		{ID: "epg:bbc1", Name: "BBC One", EPGID: "bbc1"},
		{ID: "url:sky", Name: "Sky Sports Main Event"},
	}
}

func parsers() []Parser {
	return []Parser{StreamParser{}, EventParser{}}
}

func TestParsers_SharedSemantics(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	doc := xmltvDoc(now)

	for _, p := range parsers() {
		t.Run(p.Name(), func(t *testing.T) {
			m := NewMatcher(parserChannels())
			byChannel, err := p.Parse(strings.NewReader(doc), m, now)
			require.NoError(t, err)

			bbc := byChannel["epg:bbc1"]
			require.Len(t, bbc, 2, "stale programme dropped before matching")
			assert.Equal(t, "News at Eight", bbc[0].Title)
			assert.Equal(t, "Headlines & weather", bbc[0].Description)

			// alias pass: channel id "xyz.9" resolves via its display-name
			sky := byChannel["url:sky"]
			require.Len(t, sky, 1)
			assert.Equal(t, "Big Match", sky[0].Title)

			guide := BuildGuide(byChannel, now)
			require.NotNil(t, guide["epg:bbc1"].Now, "live programme must populate now")
			assert.Equal(t, "News at Eight", guide["epg:bbc1"].Now.Title)
			assert.Equal(t, "Drama Hour", guide["epg:bbc1"].Next.Title)
		})
	}
}

func TestStreamParser_FailsOnMangledXML_EventParserSurvives(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	f := func(t time.Time) string { return t.UTC().Format("20060102150405 +0000") }
	// unclosed <tv> and a stray ampersand break the strict parser
	doc := `<tv><channel id="BBC1"><display-name>BBC One</display-name></channel>
<programme channel="BBC1" start="` + f(now.Add(-time.Minute)) + `" stop="` + f(now.Add(time.Hour)) + `"><title>Tom & Jerry</title></programme>`

	m := NewMatcher(parserChannels())
	_, err := StreamParser{}.Parse(strings.NewReader(doc), m, now)
	require.Error(t, err)

	m = NewMatcher(parserChannels())
	byChannel, err := EventParser{}.Parse(strings.NewReader(doc), m, now)
	require.NoError(t, err)
	require.Len(t, byChannel["epg:bbc1"], 1)
	assert.Equal(t, "Tom & Jerry", byChannel["epg:bbc1"][0].Title)
}

func TestParsers_EmptyDocumentIsError(t *testing.T) {
	now := time.Now()
	for _, p := range parsers() {
		m := NewMatcher(parserChannels())
		_, err := p.Parse(strings.NewReader("<tv></tv>"), m, now)
		assert.ErrorIs(t, err, ErrNoProgrammes, p.Name())
	}
}

func TestSanitizedEscapesFlowThroughStreamParser(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	f := func(t time.Time) string { return t.UTC().Format("20060102150405 +0000") }
	doc := `<tv><programme channel="BBC1" start="` + f(now) + `" stop="` + f(now.Add(time.Hour)) +
		`"><title>Bob\"s Burgers</title></programme></tv>`

	m := NewMatcher(parserChannels())
	byChannel, err := StreamParser{}.Parse(NewSanitizingReader(strings.NewReader(doc)), m, now)
	require.NoError(t, err)
	require.Len(t, byChannel["epg:bbc1"], 1)
	assert.Equal(t, `Bob"s Burgers`, byChannel["epg:bbc1"][0].Title)
}

func TestParseXMLTVTime(t *testing.T) {
	got, err := ParseXMLTVTime("20260301203000 +0100")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 19, 30, 0, 0, time.UTC), got)

	got, err = ParseXMLTVTime("20260301203000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 20, 30, 0, 0, time.UTC), got)

	_, err = ParseXMLTVTime("not-a-time")
	assert.Error(t, err)
}

func TestMaybeGunzip(t *testing.T) {
	payload := []byte(xmltvDoc(time.Now()))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	r, err := MaybeGunzip(bytes.NewReader(buf.Bytes()), "guide.xml")
	require.NoError(t, err, "magic-byte detection, no .gz suffix")
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	r, err = MaybeGunzip(bytes.NewReader(payload), "guide.xml")
	require.NoError(t, err)
	got, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "plain body passes through")
}

func TestMaybeGunzip_ShortBody(t *testing.T) {
	r, err := MaybeGunzip(bytes.NewReader([]byte{'x'}), "x")
	require.NoError(t, err)
	got, _ := io.ReadAll(r)
	assert.Equal(t, []byte{'x'}, got)
}

func BenchmarkStreamParser(b *testing.B) {
	now := time.Now()
	f := func(t time.Time) string { return t.UTC().Format("20060102150405 +0000") }
	var sb strings.Builder
	sb.WriteString("<tv>")
	for i := 0; i < 200; i++ {
		sb.WriteString(`<channel id="ch` + fmt.Sprint(i) + `"><display-name>Channel ` + fmt.Sprint(i) + `</display-name></channel>`)
	}
	for i := 0; i < 200; i++ {
		for j := 0; j < 10; j++ {
			start := now.Add(time.Duration(j) * time.Hour)
			sb.WriteString(`<programme channel="ch` + fmt.Sprint(i) + `" start="` + f(start) + `" stop="` + f(start.Add(time.Hour)) + `"><title>P</title></programme>`)
		}
	}
	sb.WriteString("</tv>")
	doc := sb.String()

	var channels []playlist.Channel
	for i := 0; i < 200; i++ {
		channels = append(channels, playlist.Channel{ID: fmt.Sprintf("epg:ch%d", i), EPGID: fmt.Sprintf("ch%d", i), Name: fmt.Sprintf("Channel %d", i)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := NewMatcher(channels)
		if _, err := (StreamParser{}).Parse(strings.NewReader(doc), m, now); err != nil {
			b.Fatal(err)
		}
	}
}
