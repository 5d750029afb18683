package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jeoparty/internal/apperr"
)

func TestTeamNameRejectsScriptPatterns(t *testing.T) {
	bad := []string{
		"<script>alert(1)</script>",
		"Owls</SCRIPT>",
		"< script",
		"javascript:alert(1)",
		"JavaScript : void(0)",
		"x onerror=alert(1)",
		"x onwheel=alert(1)",
		"a oncontextmenu=x",
		"b onscroll=y",
		"c ONPASTE = z",
		"<img src=x>",
		"<svg/onload=1>",
		"data:text/html;base64,xx",
		"tab\tname",
		"",
		"   ",
		strings.Repeat("a", TeamNameMax+1),
	}
	for _, name := range bad {
		_, err := TeamName(name)
		assert.ErrorIs(t, err, apperr.ErrValidation, "%q should be rejected", name)
	}

	good := []string{"Owls", "Team 1", "Los Niños", "Lemon = good", "Hold on = ok", "Dragons=1", "Red & Blue", strings.Repeat("é", TeamNameMax)}
	for _, name := range good {
		got, err := TeamName("  " + name + " ")
		require.NoError(t, err, name)
		assert.Equal(t, name, got)
	}
}

func TestTeamNamesDuplicates(t *testing.T) {
	_, err := TeamNames([]string{"Owls", "Hawks", "owls"})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "duplicate team name", apperr.FieldsOf(err)["team_names[2]"])

	names, err := TeamNames([]string{" Owls ", "Hawks"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Owls", "Hawks"}, names)
}

func TestReason(t *testing.T) {
	_, err := Reason("too short")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	got, err := Reason("  customer asked for a refund  ")
	require.NoError(t, err)
	assert.Equal(t, "customer asked for a refund", got)
}

func TestDeviceID(t *testing.T) {
	_, err := DeviceID("short")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = DeviceID("device id with spaces")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	got, err := DeviceID("3f0c2a1e-aaaa-bbbb")
	require.NoError(t, err)
	assert.Equal(t, "3f0c2a1e-aaaa-bbbb", got)
}

func TestJoinCode(t *testing.T) {
	code, err := JoinCode(" abc234 ")
	require.NoError(t, err)
	assert.Equal(t, "ABC234", code)

	for _, bad := range []string{"ABC12", "ABC1234", "ABCDE0", "ABCDE!"} {
		_, err := JoinCode(bad)
		assert.ErrorIs(t, err, apperr.ErrValidation, bad)
	}
}

type sampleInput struct {
	Title    string  `json:"title" validate:"notblank,max=10,safetext"`
	Points   int     `json:"point_value" validate:"pointvalue"`
	ImageURL string  `json:"image_url" validate:"omitempty,httpsurl"`
	Subject  *string `json:"subject" validate:"omitempty,max=5"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(sampleInput{Title: "Science", Points: 300, ImageURL: "https://cdn.example.com/a.png"}))

	long := "biology"
	err := Struct(sampleInput{Title: "<script>", Points: 250, ImageURL: "http://insecure.example.com", Subject: &long})
	require.ErrorIs(t, err, apperr.ErrValidation)
	fields := apperr.FieldsOf(err)
	assert.Equal(t, "contains disallowed markup or control characters", fields["title"])
	assert.Equal(t, "must be one of 100, 200, 300, 400, 500", fields["point_value"])
	assert.Equal(t, "must be an https URL", fields["image_url"])
	assert.Contains(t, fields, "subject")

	err = Struct(sampleInput{Title: "a onwheel=", Points: 100})
	assert.Contains(t, apperr.FieldsOf(err), "title")

	err = Struct(sampleInput{Title: "   ", Points: 100})
	assert.Equal(t, "this field cannot be blank", apperr.FieldsOf(err)["title"])
}
