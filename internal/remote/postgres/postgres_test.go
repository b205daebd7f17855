package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/satchel-learn/satchel/internal/remote"
)

const fixtureSQL = `
CREATE TABLE grades (id text PRIMARY KEY, name text, order_index int);
CREATE TABLE subjects (id text PRIMARY KEY, grade_id text, title text, subtext text);
CREATE TABLE topics (id text PRIMARY KEY, subject_id text, title text, subtopic text);
CREATE TABLE lessons (id text PRIMARY KEY, topic_id text, title text, content text, media_url text, media_type text);
CREATE TABLE assessments (id text PRIMARY KEY, lesson_id text, title text, quiz_data jsonb);

INSERT INTO grades VALUES ('g2', 'Grade 6', 2), ('g1', 'Grade 5', 1), ('g3', NULL, 3);
INSERT INTO subjects VALUES ('s1', 'g1', 'Mathematics', 'Numbers'), ('s2', 'g2', 'History', NULL);
INSERT INTO topics VALUES ('t1', 's1', 'Algebra Basics', NULL), ('t2', 's2', 'Egypt', NULL);
INSERT INTO lessons VALUES
  ('l1', 't1', 'Intro to Fractions', '<p>x</p>', 'https://cdn.example/l1.mp4', 'VIDEO'),
  ('l2', 't1', 'Equations', NULL, NULL, NULL);
INSERT INTO assessments VALUES
  ('a1', 'l1', 'Fractions quiz', '{"questions":[{"id":1,"options":[{"id":1,"is_correct":true}]}]}'),
  ('a2', 'l2', 'Equations quiz', NULL);
`

// typedFixtureSQL uses integer and uuid keys in a separate schema.
const typedFixtureSQL = `
CREATE SCHEMA typed;
CREATE TABLE typed.grades (id bigint PRIMARY KEY, name text, order_index int);
CREATE TABLE typed.subjects (id uuid PRIMARY KEY, grade_id bigint, title text, subtext text);
CREATE TABLE typed.topics (id bigint PRIMARY KEY, subject_id uuid, title text, subtopic text);
CREATE TABLE typed.lessons (id bigint PRIMARY KEY, topic_id bigint, title text, content text, media_url text, media_type text);
CREATE TABLE typed.assessments (id bigint PRIMARY KEY, lesson_id bigint, title text, quiz_data jsonb);
CREATE INDEX ON typed.topics (subject_id);

INSERT INTO typed.grades VALUES (5, 'Grade 5', 1);
INSERT INTO typed.subjects VALUES ('6f1c1d2e-3b4a-4c5d-8e9f-0a1b2c3d4e5f', 5, 'Mathematics', NULL);
INSERT INTO typed.topics VALUES (10, '6f1c1d2e-3b4a-4c5d-8e9f-0a1b2c3d4e5f', 'Algebra', NULL);
INSERT INTO typed.lessons VALUES (100, 10, 'Fractions', NULL, NULL, NULL);
`

func TestKeyPredicate(t *testing.T) {
	tests := []struct {
		typ  string
		many bool
		want string
	}{
		{"text", true, "subject_id = ANY($1)"},
		{"character varying(36)", false, "subject_id = $1"},
		{"uuid", true, "subject_id = ANY($1::text[]::uuid[])"},
		{"bigint", false, "subject_id = $1::text::bigint"},
		{"numeric(10,0)", true, "subject_id = ANY($1::text[]::numeric(10,0)[])"},
		{"", true, "subject_id::text = ANY($1)"},
		{`"odd"; drop`, false, "subject_id::text = $1"},
	}
	for _, tt := range tests {
		if got := keyPredicate("subject_id", tt.typ, tt.many); got != tt.want {
			t.Errorf("keyPredicate(%q, %v) = %q, want %q", tt.typ, tt.many, got, tt.want)
		}
	}
}

func TestParseURL(t *testing.T) {
	if _, err := ParseURL(""); err == nil {
		t.Error("ParseURL(\"\") expected error")
	}
	if _, err := ParseURL("postgres://u:p@localhost:5432/db"); err != nil {
		t.Errorf("ParseURL() failed: %v", err)
	}
}

func TestOpen_UnreachableIsOffline(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, "postgres://u:p@127.0.0.1:1/db?connect_timeout=1", Options{Timeout: 2 * time.Second})
	if err == nil {
		t.Fatal("Open() expected error for unreachable server")
	}
	if !errors.Is(err, remote.ErrOffline) {
		t.Errorf("Open() error = %v, want ErrOffline", err)
	}
}

func TestGateway_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("curriculum"),
		tcpostgres.WithUsername("satchel"),
		tcpostgres.WithPassword("satchel"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() failed: %v", err)
	}

	gw, err := Open(ctx, url, Options{MaxConns: 4})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer gw.Close()

	if _, err := gw.pool.Exec(ctx, fixtureSQL); err != nil {
		t.Fatalf("load fixture: %v", err)
	}

	grades, err := gw.Grades(ctx)
	if err != nil {
		t.Fatalf("Grades() failed: %v", err)
	}
	if len(grades) != 3 || grades[0].ID != "g1" || grades[2].Name != "" {
		t.Errorf("Grades() = %+v", grades)
	}

	g, err := gw.Grade(ctx, "missing")
	if err != nil || g != nil {
		t.Errorf("Grade(missing) = %v, %v; want nil, nil", g, err)
	}

	subjects, err := gw.Subjects(ctx, "g1")
	if err != nil {
		t.Fatalf("Subjects() failed: %v", err)
	}
	if len(subjects) != 1 || subjects[0].Subtext != "Numbers" {
		t.Errorf("Subjects(g1) = %+v", subjects)
	}

	topics, err := gw.Topics(ctx, []string{"s1", "s2"})
	if err != nil {
		t.Fatalf("Topics() failed: %v", err)
	}
	if len(topics) != 2 {
		t.Errorf("Topics() returned %d rows, want 2", len(topics))
	}

	lessons, err := gw.Lessons(ctx, []string{"t1"})
	if err != nil {
		t.Fatalf("Lessons() failed: %v", err)
	}
	if len(lessons) != 2 || lessons[0].MediaType != "video" || lessons[1].MediaURL != "" {
		t.Errorf("Lessons(t1) = %+v", lessons)
	}

	assessments, err := gw.Assessments(ctx, []string{"l1", "l2"})
	if err != nil {
		t.Fatalf("Assessments() failed: %v", err)
	}
	if len(assessments) != 2 {
		t.Fatalf("Assessments() returned %d rows, want 2", len(assessments))
	}
	if _, err := assessments[0].Quiz(); err != nil {
		t.Errorf("stored quiz does not parse: %v", err)
	}
	if assessments[1].QuizData != nil {
		t.Errorf("NULL quiz_data decoded as %q", assessments[1].QuizData)
	}

	empty, err := gw.Lessons(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("Lessons(nil) = %v, %v", empty, err)
	}

	t.Run("typed keys", func(t *testing.T) {
		if _, err := gw.pool.Exec(ctx, typedFixtureSQL); err != nil {
			t.Fatalf("load typed fixture: %v", err)
		}
		typedURL, err := container.ConnectionString(ctx, "sslmode=disable", "search_path=typed")
		if err != nil {
			t.Fatalf("ConnectionString() failed: %v", err)
		}
		typed, err := Open(ctx, typedURL, Options{MaxConns: 2})
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		defer typed.Close()

		subjects, err := typed.Subjects(ctx, "5")
		if err != nil || len(subjects) != 1 {
			t.Fatalf("Subjects(5) = %+v, %v", subjects, err)
		}
		topics, err := typed.Topics(ctx, []string{subjects[0].ID})
		if err != nil || len(topics) != 1 || topics[0].ID != "10" {
			t.Fatalf("Topics() = %+v, %v", topics, err)
		}
		lessons, err := typed.Lessons(ctx, []string{"10"})
		if err != nil || len(lessons) != 1 {
			t.Errorf("Lessons(10) = %+v, %v", lessons, err)
		}

		// Ids that cannot be keys of this type match nothing.
		if g, err := typed.Grade(ctx, "g1"); err != nil || g != nil {
			t.Errorf("Grade(g1) = %v, %v; want nil, nil", g, err)
		}
		if rows, err := typed.Topics(ctx, []string{"not-a-uuid"}); err != nil || len(rows) != 0 {
			t.Errorf("Topics(not-a-uuid) = %v, %v; want empty", rows, err)
		}

		// The lookup keeps the foreign-key index usable.
		conn, err := typed.pool.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire() failed: %v", err)
		}
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SET enable_seqscan = off"); err != nil {
			t.Fatalf("SET failed: %v", err)
		}
		var plan string
		if err := conn.QueryRow(ctx,
			`EXPLAIN SELECT id FROM topics WHERE `+keyPredicate("subject_id", "uuid", true),
			[]string{subjects[0].ID}).Scan(&plan); err != nil {
			t.Fatalf("EXPLAIN failed: %v", err)
		}
		if !strings.Contains(plan, "Index") && !strings.Contains(plan, "Bitmap") {
			t.Errorf("subject_id lookup does not use its index: %s", plan)
		}
	})
}
