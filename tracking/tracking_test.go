package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	scalars []int
	images  []string
	err     error
}

func (r *recorder) LogScalars(epoch int, values map[string]float64) error {
	r.scalars = append(r.scalars, epoch)
	return r.err
}

func (r *recorder) LogImage(epoch int, grid image.Image, caption string) error {
	r.images = append(r.images, caption)
	return r.err
}

type scalarsOnly struct{ n int }

func (s *scalarsOnly) LogScalars(epoch int, values map[string]float64) error { s.n++; return nil }

func TestFanout(t *testing.T) {
	assert := assert.New(t)
	var f Fanout
	a := new(recorder)
	b := &recorder{err: errors.New("broken")}
	s := new(scalarsOnly)
	assert.True(f.Add(a))
	assert.True(f.Add(b))
	assert.True(f.Add(s))
	assert.False(f.Add(42))
	assert.Len(f.Scalars, 3)
	assert.Len(f.Images, 2)

	err := f.LogScalars(3, map[string]float64{"x": 1})
	assert.Error(err)
	assert.Contains(err.Error(), "broken")
	assert.Equal([]int{3}, a.scalars)
	assert.Equal([]int{3}, b.scalars)
	assert.Equal(1, s.n)

	err = f.LogImage(3, image.NewRGBA(image.Rect(0, 0, 2, 2)), "grid")
	assert.Error(err)
	assert.Equal([]string{"grid"}, a.images)
}

func TestLogger(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	l := NewLogger(log)
	require.NoError(t, l.LogScalars(2, map[string]float64{"context_loss": 0.5}))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, 2, entry.Data["epoch"])
	assert.Equal(t, 0.5, entry.Data["context_loss"])
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	c := NewCSV(&buf, nil)
	require.NoError(t, c.LogScalars(0, map[string]float64{"b": 2, "a": 1}))
	require.NoError(t, c.LogScalars(1, map[string]float64{"a": 0.5}))
	assert.Equal(t, "epoch,a,b\n0,1,2\n1,0.5,\n", buf.String())
}

func TestPNGDir(t *testing.T) {
	d, err := NewPNGDir(filepath.Join(t.TempDir(), "grids"))
	require.NoError(t, err)
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	require.NoError(t, d.LogImage(7, img, "Top row HE->P63, Bottom P63->HE"))
	require.Len(t, d.Written(), 1)
	assert.Equal(t, "0007_top_row_he_p63_bottom_p63_he.png", filepath.Base(d.Written()[0]))

	f, err := os.Open(d.Written()[0])
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	assert.True(t, strings.HasSuffix(d.Filename(1, "!!"), "0001_grid.png"))
}

func TestMetrics(t *testing.T) {
	m, err := NewMetrics("cyclestain", "run")
	require.NoError(t, err)
	require.NoError(t, m.LogScalars(4, map[string]float64{"he_cycle_loss": 0.25}))
	require.NoError(t, m.LogImage(4, image.NewRGBA(image.Rect(0, 0, 1, 1)), "Paired"))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.losses.WithLabelValues("he_cycle_loss")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.epoch))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.images.WithLabelValues("Paired")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cyclestain_loss{channel="he_cycle_loss",run="run"} 0.25`)
}

func TestHub(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	h := NewHub(log)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, h.LogScalars(1, map[string]float64{"total_generator_loss": 3}))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "losses", m.Kind)
	assert.Equal(t, 1, m.Epoch)
	assert.Equal(t, 3.0, m.Losses["total_generator_loss"])

	conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

type fakeUploader struct {
	input *s3manager.UploadInput
	body  []byte
}

func (f *fakeUploader) UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	f.input = input
	b, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3manager.UploadOutput{Location: "s3://bucket/" + aws.StringValue(input.Key)}, nil
}

func TestS3Archiver(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "cyclestain_3.ckpt")
	require.NoError(t, os.WriteFile(filename, []byte("weights"), 0644))

	up := new(fakeUploader)
	log, _ := logtest.NewNullLogger()
	a := newS3Archiver(up, "bucket", "runs/abc", log)
	require.NoError(t, a.Archive(context.Background(), filename))
	assert.Equal(t, "bucket", aws.StringValue(up.input.Bucket))
	assert.Equal(t, "runs/abc/cyclestain_3.ckpt", aws.StringValue(up.input.Key))
	assert.Equal(t, []byte("weights"), up.body)

	assert.Error(t, a.Archive(context.Background(), filename+".missing"))
}

func TestSetup(t *testing.T) {
	dir := t.TempDir()
	conf := DefaultConfig()
	conf.Prometheus = true
	conf.CSV = filepath.Join(dir, "losses.csv")
	conf.GIF = filepath.Join(dir, "progress.gif")
	conf.GIFSize = 16
	log, _ := logtest.NewNullLogger()

	r, err := Setup(conf, log)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.NotNil(t, r.Metrics)
	assert.Nil(t, r.Hub)
	assert.Nil(t, r.Archiver)
	assert.Len(t, r.Scalars, 3)
	assert.Len(t, r.Images, 3)

	require.NoError(t, r.LogScalars(0, map[string]float64{"a": 1}))
	require.NoError(t, r.LogImage(0, image.NewRGBA(image.Rect(0, 0, 8, 8)), "grid"))
	require.NoError(t, r.Close())

	csv, err := os.ReadFile(conf.CSV)
	require.NoError(t, err)
	assert.Equal(t, "epoch,a\n0,1\n", string(csv))
	info, err := os.Stat(conf.GIF)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}
