package telemetry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAnalytics struct {
	names []string
}

func (r *recordingAnalytics) TrackEngagement(name, _ string, _ float64) {
	r.names = append(r.names, name)
}

func TestMultiAnalyticsFansOut(t *testing.T) {
	a, b := &recordingAnalytics{}, &recordingAnalytics{}
	MultiAnalytics{a, b}.TrackEngagement("bet_joined", "value_guess", 50)
	assert.Equal(t, []string{"bet_joined"}, a.names)
	assert.Equal(t, []string{"bet_joined"}, b.names)
}

func TestLogAnalyticsWritesFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	LogAnalytics{Log: logger}.TrackEngagement("room_created", "anime", 1)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "room_created", hook.LastEntry().Data["event"])
	assert.Equal(t, "anime", hook.LastEntry().Data["label"])
}

func TestStaticUserSet(t *testing.T) {
	u := models.SocialUser{ID: uuid.New(), DisplayName: "Ana"}
	p := NewStaticUser(u)
	assert.Equal(t, u, p.CurrentUser())

	u.DisplayName = "Ana B"
	p.Set(u)
	assert.Equal(t, "Ana B", p.CurrentUser().DisplayName)
}
