package scan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"schoolgate/internal/roster"
)

var people = []roster.Person{
	{ID: 1, ExternalCode: "S001", LoginName: "alice01", DisplayName: "Alice Anderson"},
	{ID: 2, ExternalCode: "S002", LoginName: "bob02", DisplayName: "Bob Brown"},
	{ID: 30, DisplayName: "Carol Clark"},
}

func TestResolveJSONPayload(t *testing.T) {
	p, err := ResolvePerson(`{"student_id":"S002"}`, people)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), p.ID)

	p, err = ResolvePerson(`{"id":30}`, people)
	assert.NoError(t, err)
	assert.Equal(t, "Carol Clark", p.DisplayName)
}

func TestResolveBareCode(t *testing.T) {
	p, err := ResolvePerson("S001", people)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)

	p, err = ResolvePerson("alice01", people)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
}

func TestResolveCaseInsensitive(t *testing.T) {
	p, err := ResolvePerson("s002", people)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), p.ID)
}

func TestResolveNameSubstring(t *testing.T) {
	p, err := ResolvePerson("clark", people)
	assert.NoError(t, err)
	assert.Equal(t, int64(30), p.ID)
}

func TestResolveNumericPayload(t *testing.T) {
	p, err := ResolvePerson(" 30 ", people)
	assert.NoError(t, err)
	assert.Equal(t, int64(30), p.ID)
}

func TestResolveExactWinsOverSubstring(t *testing.T) {
	// "S001" is Alice's code even though it is also a substring of nothing
	// else; the exact pass must run before the fuzzy passes.
	withDecoy := append([]roster.Person{{ID: 99, DisplayName: "s001 decoy"}}, people...)
	p, err := ResolvePerson("S001", withDecoy)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
}

func TestResolveNotFound(t *testing.T) {
	_, err := ResolvePerson(`{"student_id":"ZZZ"}`, people)

	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, "ZZZ", nf.Query)
	assert.Equal(t, len(people), nf.RosterSize)
}

func TestResolveDeterministic(t *testing.T) {
	a, err1 := ResolvePerson("bob", people)
	b, err2 := ResolvePerson("bob", people)
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Equal(t, a, b)
}
