//go:build integration

package integration

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	server "checkin_messenger/internal/adapters/http_server"
	"checkin_messenger/internal/adapters/ical"
	redisad "checkin_messenger/internal/adapters/redis"
	"checkin_messenger/internal/adapters/whatsapp"
	"checkin_messenger/internal/app"
	"checkin_messenger/internal/domain"
	mysqlrepo "checkin_messenger/internal/storage/mysql"
)

func migrationsDir() string {
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		return v
	}
	return filepath.Join("..", "..", "migrations")
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := migrationsDir()

	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		t.Fatalf("MIGRATIONS_DIR=%s is not a directory or missing", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env:        []string{"MYSQL_ROOT_PASSWORD=root", "MYSQL_DATABASE=checkin"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/checkin?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		resource.GetPort("3306/tcp"))
	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

const feed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//e2e//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:res-42@e2e\r\nDTSTART;VALUE=DATE:20261015\r\nDTEND;VALUE=DATE:20261018\r\n" +
	"SUMMARY:Reserved\r\nDESCRIPTION:First Name: Ana\\nLast Name: Pop\\nPhone: 0722 123 456\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:res-41@e2e\r\nDTSTART;VALUE=DATE:20261010\r\nSUMMARY:Reserved\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

// ---------- the test ----------
func TestHTTP_EndToEnd_DispatchOncePerReservation(t *testing.T) {
	db := startMySQL(t)
	applyMigrations(t, db)
	repo := mysqlrepo.New(db)

	calSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(feed))
	}))
	defer calSrv.Close()

	var sends atomic.Int32
	var lastTo atomic.Value
	waSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			To string `json:"to"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		lastTo.Store(body.To)
		n := sends.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"messages":[{"id":"wamid.%d"}]}`, n)
	}))
	defer waSrv.Close()

	if _, err := db.Exec(`INSERT INTO hotels (id, name) VALUES (1, 'Oberth')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO rooms (id, hotel_id, name, calendar_url, template_name) VALUES (10, 1, 'Ap 1', ?, '')`, calSrv.URL+"/a.ics"); err != nil {
		t.Fatal(err)
	}

	mr := miniredis.RunT(t)
	rdb := redisad.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = rdb.Close() })

	gw, err := whatsapp.New(waSrv.URL, "token", "12345", 50)
	if err != nil {
		t.Fatal(err)
	}
	disp := app.NewDispatchService(app.DispatchDeps{
		Registry: repo,
		Calendar: ical.New(time.UTC, 50),
		Gateway:  gw,
		Ledger:   redisad.NewLedger(rdb, time.Minute, 72*time.Hour),
		Messages: repo,
	}, app.DispatchConfig{})

	srv := server.New(5*time.Second, 30*time.Second)
	srv.MountHandlers(&server.Handlers{
		Dispatch: disp,
		Bulk:     app.NewBulkService(gw, nil, app.BulkConfig{}),
		Messages: app.NewMessageQueryService(repo, redisad.New(rdb), time.Minute),
		Registry: repo,
		Settings: repo,
		Loc:      time.UTC,
	})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	// prime the message cache so the dispatch must invalidate it
	if res, err := http.Get(ts.URL + "/v1/messages"); err == nil {
		res.Body.Close()
	}

	for i, want := range []int{1, 0} {
		res, err := http.Post(ts.URL+"/v1/dispatch", "application/json", bytes.NewReader([]byte(`{"date":"2026-10-15"}`)))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		var sum domain.DispatchSummary
		_ = json.NewDecoder(res.Body).Decode(&sum)
		res.Body.Close()
		if res.StatusCode != http.StatusOK || sum.Found != 1 || sum.Sent != want {
			t.Fatalf("run %d: status=%d summary=%+v", i, res.StatusCode, sum)
		}
	}
	if n := sends.Load(); n != 1 {
		t.Fatalf("gateway received %d sends, want 1", n)
	}
	if to, _ := lastTo.Load().(string); to != "+40722123456" {
		t.Fatalf("sent to %q", to)
	}

	res, err := http.Get(ts.URL + "/v1/messages?hotel_id=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	var msgs []domain.MessageRecord
	if err := json.NewDecoder(res.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ReservationID != "res-42@e2e" || msgs[0].SentDate != "2026-10-15" || msgs[0].TemplateName != "oberth" {
		t.Fatalf("messages=%+v", msgs)
	}

	// settings round trip through MySQL
	res2, err := http.Get(ts.URL + "/v1/rooms/10/settings")
	if err != nil {
		t.Fatalf("GET settings: %v", err)
	}
	defer res2.Body.Close()
	var st domain.RoomSettings
	_ = json.NewDecoder(res2.Body).Decode(&st)
	if !st.AutoSend || st.SendTime != "11:00:00" {
		t.Fatalf("settings=%+v", st)
	}
}
