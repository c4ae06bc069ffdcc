package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t  *testing.T
	db string
}

func newCLI(t *testing.T) *cli {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("EVENT_BUS_NAME", "")
	t.Setenv("WEBSOCKET_ENDPOINT", "")
	return &cli{t: t, db: filepath.Join(t.TempDir(), "links.db")}
}

func (c *cli) run(args ...string) (string, error) {
	var out bytes.Buffer
	root, release := newRootCmd(&out)
	defer release()
	root.SetArgs(append([]string{"--db", c.db}, args...))
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) map[string]interface{} {
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	var v map[string]interface{}
	require.NoError(c.t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestLinkctl_LinkLifecycle(t *testing.T) {
	c := newCLI(t)

	c.mustRun("record", "save", "TOP", "t1", "--label", "Climate")
	c.mustRun("record", "save", "CLA", "c1", "--label", "Sky is blue", "--field", "notes=checked")

	link := c.mustRun("link", "create", "CLA:c1", "TOP:t1", "--to-locations", "p. 4")
	id, _ := link["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "CLA", link["fromEntityKind"])

	res := c.mustRun("links", "t1")
	links, _ := res["links"].([]interface{})
	require.Len(t, links, 1)
	first := links[0].(map[string]interface{})
	assert.Equal(t, "c1", first["otherRecordId"])
	assert.Equal(t, true, first["thisRecordIsToEntity"])
	assert.Equal(t, "p. 4", first["thisLocations"])

	_, err := c.run("link", "create", "CLA:c1", "TOP:t1")
	require.Error(t, err)

	c.mustRun("link", "delete", id)
	res = c.mustRun("links", "t1")
	links, _ = res["links"].([]interface{})
	require.Len(t, links, 1)
	assert.Equal(t, "DEL", links[0].(map[string]interface{})["status"])
}

func TestLinkctl_Directions(t *testing.T) {
	c := newCLI(t)

	dir := c.mustRun("directions", "TOP", "CLA")
	assert.Equal(t, "CLA", dir["fromKind"])

	_, err := c.run("directions", "TOP")
	assert.Error(t, err)
}

func TestLinkctl_AuthoritiesAreEnforced(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("--authorities", "REA", "record", "save", "TOP", "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPD")

	_, err = c.run("--authorities", "UPD", "record", "save", "TOP", "t1")
	require.NoError(t, err)
}

func TestLinkctl_YAMLOutput(t *testing.T) {
	c := newCLI(t)
	out, err := c.run("-o", "yaml", "record", "save", "TOP", "t1", "--label", "Climate")
	require.NoError(t, err)
	assert.Contains(t, out, "label: Climate")
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"n=3", "tags=[a, b]", "text=hello world"})
	require.NoError(t, err)
	assert.Equal(t, 3, fields["n"])
	assert.Equal(t, []interface{}{"a", "b"}, fields["tags"])
	assert.Equal(t, "hello world", fields["text"])

	_, err = parseFields([]string{"novalue"})
	assert.Error(t, err)
}
