package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/streamkit/tally/internal/auth"
	"github.com/streamkit/tally/internal/bus"
	"github.com/streamkit/tally/internal/core"
	coredb "github.com/streamkit/tally/internal/core/db"
	"github.com/streamkit/tally/internal/core/models"
)

const testGuildID = "guild-123"

var (
	sqlxDB  *sqlx.DB
	authSvc *auth.Service
	srv     *Server
	gameID  int64
)

type fakeVerifier struct {
	member bool
}

func (f *fakeVerifier) AuthURL(state string) string {
	return "https://idp.example/authorize?state=" + state
}

func (f *fakeVerifier) ExchangeCode(_ context.Context, code string) (string, error) {
	if code == "bad-code" {
		return "", errors.New("invalid code")
	}
	return "token-" + code, nil
}

func (f *fakeVerifier) Identify(_ context.Context, _ string) (string, string, error) {
	return "user-1", "streamer", nil
}

func (f *fakeVerifier) MemberOfGuild(_ context.Context, _, guildID string) (bool, error) {
	return guildID == testGuildID && f.member, nil
}

func removeDB() {
	os.Remove("../../test_server.sqlite")
	os.Remove("../../test_server.sqlite-shm")
	os.Remove("../../test_server.sqlite-wal")
}

func truncateDB(t *testing.T) {
	if _, err := sqlxDB.Exec("DELETE FROM counters;"); err != nil {
		t.Fatalf("unexpected error")
	}
}

func TestMain(t *testing.M) {
	u, err := url.Parse("../../test_server.sqlite")
	if err != nil {
		fmt.Println("error parsing url: ", err)
		os.Exit(1)
	}

	q := u.Query()
	q.Add("_journal", "WAL")
	u.RawQuery = q.Encode()

	sqlxDB, err = sqlx.Open("sqlite", u.String())
	if err != nil {
		fmt.Println("error opening test db: ", err)
		removeDB()
		os.Exit(1)
	}

	// Perform migrations
	ups, err := os.ReadDir("../../migrate")
	if err != nil {
		fmt.Println("error reading migrate dir: ", err)
		removeDB()
		os.Exit(1)
	}

	for _, up := range ups {
		if up.IsDir() {
			continue
		}

		if !strings.HasSuffix(up.Name(), "sql") {
			continue
		}

		upBytes, err := os.ReadFile(filepath.Join("../../migrate", up.Name()))
		if err != nil {
			fmt.Println("error reading migration file: ", err)
			removeDB()
			os.Exit(1)
		}

		_, err = sqlxDB.Exec(string(upBytes))
		if err != nil {
			fmt.Println("error executing migration: ", err)
			removeDB()
			os.Exit(1)
		}
	}

	l := zap.NewNop().Sugar()
	d := coredb.New(sqlxDB)
	b := bus.NewMemory(l)
	cr := core.New(d, b, l)

	authSvc = auth.New(&fakeVerifier{member: true}, auth.Config{
		GuildID:         testGuildID,
		SessionDuration: time.Hour,
	})

	srv = New(l, Config{Port: 0}, cr, authSvc, b)

	g, err := d.GetGameByName(context.Background(), "Jedi Fallen Order")
	if err != nil {
		fmt.Println("error fetching seeded game: ", err)
		removeDB()
		os.Exit(1)
	}
	gameID = g.ID

	code := t.Run()

	removeDB()
	os.Exit(code)
}

// sessionToken issues a valid session through the fake verifier
func sessionToken(t *testing.T) string {
	t.Helper()
	session, err := authSvc.CompleteLogin(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("unexpected error creating session: %s", err)
	}
	return session.Token
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("unexpected error encoding body: %s", err)
		}
	}

	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("unexpected error creating request: %s", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error doing request: %s", err)
	}
	return res
}

func errorCode(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error decoding error body: %s", err)
	}
	return body.Error.Code
}

func counterPath(name string) string {
	return fmt.Sprintf("/api/games/%d/counters/%s", gameID, url.PathEscape(name))
}

func getCount(t *testing.T, ts *httptest.Server, name string) int64 {
	t.Helper()

	res := doRequest(t, ts, http.MethodGet, counterPath(name), "", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET counter status = %d, want 200", res.StatusCode)
	}

	var body struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error decoding count: %s", err)
	}
	return body.Count
}

func TestMutationsRequireSession(t *testing.T) {
	truncateDB(t)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	paths := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPost, fmt.Sprintf("/api/games/%d/counters", gameID), map[string]string{"name": "Deaths"}},
		{http.MethodDelete, counterPath("Deaths"), nil},
		{http.MethodPost, counterPath("Deaths") + "/increment", nil},
		{http.MethodPost, counterPath("Deaths") + "/decrement", nil},
	}

	for _, p := range paths {
		res := doRequest(t, ts, p.method, p.path, "", p.body)
		if res.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", p.method, p.path, res.StatusCode)
		}
		if code := errorCode(t, res); code != "UNAUTHORIZED" {
			t.Errorf("%s %s error code = %q, want UNAUTHORIZED", p.method, p.path, code)
		}
	}

	// No store side effects from the rejected calls
	res := doRequest(t, ts, http.MethodGet, fmt.Sprintf("/api/games/%d/counters", gameID), "", nil)
	defer res.Body.Close()
	var counters []models.Counter
	if err := json.NewDecoder(res.Body).Decode(&counters); err != nil {
		t.Fatalf("unexpected error decoding counters: %s", err)
	}
	if len(counters) != 0 {
		t.Errorf("counters after rejected mutations = %v, want empty", counters)
	}
}

func TestCounterLifecycle(t *testing.T) {
	truncateDB(t)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	token := sessionToken(t)
	addPath := fmt.Sprintf("/api/games/%d/counters", gameID)

	res := doRequest(t, ts, http.MethodPost, addPath, token, map[string]string{"name": "Deaths"})
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", res.StatusCode)
	}

	res = doRequest(t, ts, http.MethodPost, addPath, token, map[string]string{"name": "Deaths"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate add status = %d, want 409", res.StatusCode)
	}
	if code := errorCode(t, res); code != "COUNTER_EXISTS" {
		t.Errorf("duplicate add error code = %q, want COUNTER_EXISTS", code)
	}

	if count := getCount(t, ts, "Deaths"); count != 0 {
		t.Errorf("count after add = %d, want 0", count)
	}

	for i := 0; i < 3; i++ {
		res = doRequest(t, ts, http.MethodPost, counterPath("Deaths")+"/increment", token, nil)
		res.Body.Close()
		if res.StatusCode != http.StatusNoContent {
			t.Fatalf("increment status = %d, want 204", res.StatusCode)
		}
	}
	if count := getCount(t, ts, "Deaths"); count != 3 {
		t.Errorf("count after 3 increments = %d, want 3", count)
	}

	// Fourth decrement hits the zero floor and is dropped, still a success
	for i := 0; i < 4; i++ {
		res = doRequest(t, ts, http.MethodPost, counterPath("Deaths")+"/decrement", token, nil)
		res.Body.Close()
		if res.StatusCode != http.StatusNoContent {
			t.Fatalf("decrement status = %d, want 204", res.StatusCode)
		}
	}
	if count := getCount(t, ts, "Deaths"); count != 0 {
		t.Errorf("count after decrements = %d, want 0", count)
	}

	res = doRequest(t, ts, http.MethodDelete, counterPath("Deaths"), token, nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", res.StatusCode)
	}

	// Deleting again is an idempotent no-op
	res = doRequest(t, ts, http.MethodDelete, counterPath("Deaths"), token, nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("repeat delete status = %d, want 204", res.StatusCode)
	}

	res = doRequest(t, ts, http.MethodPost, counterPath("Deaths")+"/increment", token, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("increment of deleted counter status = %d, want 404", res.StatusCode)
	}
	if code := errorCode(t, res); code != "COUNTER_NOT_FOUND" {
		t.Errorf("increment of deleted counter error code = %q, want COUNTER_NOT_FOUND", code)
	}
}

func TestGamesEndpoints(t *testing.T) {
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	res := doRequest(t, ts, http.MethodGet, "/api/games", "", nil)
	var games []models.Game
	if err := json.NewDecoder(res.Body).Decode(&games); err != nil {
		t.Fatalf("unexpected error decoding games: %s", err)
	}
	res.Body.Close()

	want := []models.Game{{ID: gameID, Name: "Jedi Fallen Order"}}
	if diff := cmp.Diff(want, games); diff != "" {
		t.Errorf("GET /api/games mismatch (-want +got):\n%s", diff)
	}

	res = doRequest(t, ts, http.MethodGet, "/api/games/"+url.PathEscape("Jedi Fallen Order"), "", nil)
	var game models.Game
	if err := json.NewDecoder(res.Body).Decode(&game); err != nil {
		t.Fatalf("unexpected error decoding game: %s", err)
	}
	res.Body.Close()
	if diff := cmp.Diff(want[0], game); diff != "" {
		t.Errorf("GET /api/games/{name} mismatch (-want +got):\n%s", diff)
	}

	res = doRequest(t, ts, http.MethodGet, "/api/games/Sekiro", "", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("missing game status = %d, want 404", res.StatusCode)
	}
	if code := errorCode(t, res); code != "GAME_NOT_FOUND" {
		t.Errorf("missing game error code = %q, want GAME_NOT_FOUND", code)
	}
}

func TestInvalidGameID(t *testing.T) {
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	res := doRequest(t, ts, http.MethodGet, "/api/games/abc/counters", "", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid game id status = %d, want 400", res.StatusCode)
	}
	res.Body.Close()
}

func TestLogoutInvalidatesSession(t *testing.T) {
	truncateDB(t)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	token := sessionToken(t)

	res := doRequest(t, ts, http.MethodPost, "/auth/logout", token, nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", res.StatusCode)
	}

	res = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/games/%d/counters", gameID), token, map[string]string{"name": "Deaths"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("mutation after logout status = %d, want 401", res.StatusCode)
	}
	res.Body.Close()
}

func TestCallbackStateMismatch(t *testing.T) {
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/auth/callback?code=good-code&state=other", nil)
	if err != nil {
		t.Fatalf("unexpected error creating request: %s", err)
	}
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "expected"})

	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error doing request: %s", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("state mismatch status = %d, want 400", res.StatusCode)
	}
}

func TestCallbackIssuesSession(t *testing.T) {
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/auth/callback?code=good-code&state=st_abc", nil)
	if err != nil {
		t.Fatalf("unexpected error creating request: %s", err)
	}
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "st_abc"})

	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error doing request: %s", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("callback status = %d, want 307", res.StatusCode)
	}

	var token string
	for _, c := range res.Cookies() {
		if c.Name == sessionCookieName {
			token = c.Value
		}
	}
	if token == "" {
		t.Fatal("expected a session cookie on the callback response")
	}

	if _, err := authSvc.ValidateSession(token); err != nil {
		t.Errorf("session cookie doesn't validate: %s", err)
	}
}

// TestEventStreamBroadcast exercises the synchronization protocol end to
// end: a mutation by one client produces an `updated` event on another
// client's stream, and a re-fetch then observes the new state. The event
// itself carries nothing.
func TestEventStreamBroadcast(t *testing.T) {
	truncateDB(t)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	token := sessionToken(t)

	res := doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/games/%d/counters", gameID), token, map[string]string{"name": "Deaths"})
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", res.StatusCode)
	}

	// Client B: open the event stream
	stream := doRequest(t, ts, http.MethodGet, "/api/events", "", nil)
	defer stream.Body.Close()
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("event stream status = %d, want 200", stream.StatusCode)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(stream.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitForLine := func(want string) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", want)
				}
				if line == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	waitForLine("event: connected")

	// Client A: mutate
	res = doRequest(t, ts, http.MethodPost, counterPath("Deaths")+"/increment", token, nil)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("increment status = %d, want 204", res.StatusCode)
	}

	waitForLine("event: updated")

	// Client B re-fetches and sees the new count
	if count := getCount(t, ts, "Deaths"); count != 1 {
		t.Errorf("count after broadcast = %d, want 1", count)
	}
}
