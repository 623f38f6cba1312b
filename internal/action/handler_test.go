package action

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-sod/posture/internal/classifier"
	"github.com/go-sod/posture/internal/classifier/knn"
	"github.com/go-sod/posture/internal/landmark"
	"github.com/go-sod/posture/internal/posture"
	"github.com/go-sod/posture/internal/sample"
	"github.com/go-sod/posture/internal/session"
)

func points(angle float64) [][]float64 {
	out := make([][]float64, landmark.Count)
	for i := range out {
		out[i] = []float64{0.5, 0.5, 0}
	}
	dy := math.Tan(angle * math.Pi / 180)
	out[landmark.LeftShoulder][1] = 0.2
	out[landmark.RightShoulder][1] = 0.2
	out[landmark.LeftHip][1] = 0.2 + dy
	out[landmark.RightHip][1] = 0.2 + dy
	return out
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	provide, err := knn.ProvideFor(&classifier.Config{KNum: 3, DistanceFunc: "EUCLIDEAN"})
	if err != nil {
		t.Fatal(err)
	}
	m, err := session.NewManager(&session.Config{
		MinSamples:  20,
		AutoCapture: false,
		Sensitivity: posture.DefaultSensitivity,
	}, provide, nil)
	if err != nil {
		t.Fatal(err)
	}
	h, err := NewHandler(&Config{RequestTimeout: 5 * time.Second, MaxBodyBytes: 64 * 1024}, m, landmark.DefaultProfile())
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == nil {
		r = httptest.NewRequest(method, path, nil)
	} else {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = httptest.NewRequest(method, path, strings.NewReader(string(b)))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func openSession(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("open session, status: %d, body: %s", w.Code, w.Body.String())
	}
	var resp sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Sensitivity != posture.DefaultSensitivity || !resp.Ready || resp.Samples != 0 {
		t.Errorf("opened session, got: %+v", resp)
	}
	return resp.SessionID
}

func label(t *testing.T, h http.Handler, id, name string, angle float64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		w := do(t, h, http.MethodPost, "/label", labelRequest{SessionID: id, Label: name, Landmarks: points(angle)})
		if w.Code != http.StatusCreated {
			t.Fatalf("label, status: %d, body: %s", w.Code, w.Body.String())
		}
	}
}

func TestHandler_Workflow(t *testing.T) {
	h := newTestHandler(t)
	id := openSession(t, h)

	if w := do(t, h, http.MethodPost, "/export", sessionRequest{SessionID: id}); w.Code != http.StatusConflict {
		t.Errorf("export of empty session, status: %d, expected: %d", w.Code, http.StatusConflict)
	}

	label(t, h, id, posture.LabelGood, 5, 5)
	if w := do(t, h, http.MethodPost, "/train", sessionRequest{SessionID: id}); w.Code != http.StatusConflict {
		t.Errorf("train with 5 samples, status: %d, expected: %d", w.Code, http.StatusConflict)
	}
	if w := do(t, h, http.MethodPost, "/accuracy", sessionRequest{SessionID: id}); w.Code != http.StatusConflict {
		t.Errorf("accuracy with 5 samples, status: %d, expected: %d", w.Code, http.StatusConflict)
	}

	label(t, h, id, posture.LabelBad, 40, 10)
	label(t, h, id, posture.LabelGood, 5, 10)

	w := do(t, h, http.MethodPost, "/train", sessionRequest{SessionID: id})
	if w.Code != http.StatusOK {
		t.Fatalf("train, status: %d, body: %s", w.Code, w.Body.String())
	}
	var trained session.TrainResult
	if err := json.Unmarshal(w.Body.Bytes(), &trained); err != nil {
		t.Fatal(err)
	}
	if trained.Examples != 25 || trained.Labels != 2 {
		t.Errorf("train, got: %+v", trained)
	}

	w = do(t, h, http.MethodPost, "/accuracy", sessionRequest{SessionID: id})
	if w.Code != http.StatusOK {
		t.Fatalf("accuracy, status: %d, body: %s", w.Code, w.Body.String())
	}
	var acc session.AccuracyResult
	if err := json.Unmarshal(w.Body.Bytes(), &acc); err != nil {
		t.Fatal(err)
	}
	if acc.Total != 5 || acc.Accuracy != 100 {
		t.Errorf("accuracy, got: %+v", acc)
	}

	w = do(t, h, http.MethodPost, "/export", sessionRequest{SessionID: id})
	if w.Code != http.StatusOK {
		t.Fatalf("export, status: %d", w.Code)
	}
	name := sample.FileName(time.Now())
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="`+name+`"` {
		t.Errorf("Content-Disposition, got: %q", cd)
	}
	records, err := sample.Decode(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 25 || records[0].Label != posture.LabelGood || records[5].Label != posture.LabelBad {
		t.Errorf("exported %d records", len(records))
	}

	w = do(t, h, http.MethodGet, "/session?session="+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats, status: %d", w.Code)
	}
	var st session.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Trained || st.Samples != 25 || st.Labels[posture.LabelBad] != 10 {
		t.Errorf("stats, got: %+v", st)
	}

	if w := do(t, h, http.MethodDelete, "/session?session="+id, nil); w.Code != http.StatusNoContent {
		t.Errorf("close, status: %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/train", sessionRequest{SessionID: id}); w.Code != http.StatusNotFound {
		t.Errorf("train on closed session, status: %d, expected: %d", w.Code, http.StatusNotFound)
	}
}

func TestHandler_Sensitivity(t *testing.T) {
	h := newTestHandler(t)
	id := openSession(t, h)
	deg := func(v float64) *float64 { return &v }

	tests := []struct {
		name     string
		body     interface{}
		status   int
		expected float64
	}{
		{name: "in_range", body: sensitivityRequest{SessionID: id, Degrees: deg(35)}, status: http.StatusOK, expected: 35},
		{name: "lower_bound", body: sensitivityRequest{SessionID: id, Degrees: deg(20)}, status: http.StatusOK, expected: 20},
		{name: "upper_bound", body: sensitivityRequest{SessionID: id, Degrees: deg(50)}, status: http.StatusOK, expected: 50},
		{name: "below_range", body: sensitivityRequest{SessionID: id, Degrees: deg(19.5)}, status: http.StatusBadRequest},
		{name: "above_range", body: sensitivityRequest{SessionID: id, Degrees: deg(60)}, status: http.StatusBadRequest},
		{name: "missing_degrees", body: sensitivityRequest{SessionID: id}, status: http.StatusBadRequest},
		{name: "unknown_session", body: sensitivityRequest{SessionID: "nope", Degrees: deg(30)}, status: http.StatusNotFound},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/sensitivity", test.body)
			if w.Code != test.status {
				t.Fatalf("status, got: %d, expected: %d, body: %s", w.Code, test.status, w.Body.String())
			}
			if test.status != http.StatusOK {
				return
			}
			var resp sensitivityResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Sensitivity != test.expected {
				t.Errorf("sensitivity, got: %v, expected: %v", resp.Sensitivity, test.expected)
			}
		})
	}
}

func TestHandler_Label(t *testing.T) {
	h := newTestHandler(t)
	id := openSession(t, h)

	tests := []struct {
		name   string
		body   labelRequest
		status int
	}{
		{name: "custom_label", body: labelRequest{SessionID: id, Label: "leaning_left", Landmarks: points(10)}, status: http.StatusCreated},
		{name: "empty_label", body: labelRequest{SessionID: id, Label: " ", Landmarks: points(10)}, status: http.StatusBadRequest},
		{name: "no_landmarks", body: labelRequest{SessionID: id, Label: "x"}, status: http.StatusBadRequest},
		{name: "unknown_session", body: labelRequest{SessionID: "nope", Label: "x", Landmarks: points(10)}, status: http.StatusNotFound},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/label", test.body)
			if w.Code != test.status {
				t.Errorf("status, got: %d, expected: %d, body: %s", w.Code, test.status, w.Body.String())
			}
		})
	}
}

func TestHandler_SourceConfig(t *testing.T) {
	h := newTestHandler(t)
	w := do(t, h, http.MethodGet, "/source-config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var p landmark.Profile
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p != landmark.DefaultProfile() {
		t.Errorf("profile, got: %+v", p)
	}
	if w := do(t, h, http.MethodPost, "/source-config", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /source-config, status: %d", w.Code)
	}
}
