package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	orchestration "github.com/unamentis/tutor-core/core"
	"github.com/unamentis/tutor-core/core/llms"
	"github.com/unamentis/tutor-core/core/llms/groq"
)

// sessionReport is the structured post-session recap produced by the llm.
type sessionReport struct {
	Summary       string   `json:"summary" jsonschema_description:"Two to three sentence recap of what was covered"`
	Strengths     []string `json:"strengths" jsonschema_description:"Concepts the student handled well"`
	AreasToReview []string `json:"areas_to_review" jsonschema_description:"Concepts the student should revisit"`
	NextTopic     string   `json:"next_topic" jsonschema_description:"A sensible topic for the next session"`
}

const summarySystemPrompt = "You are reviewing a tutoring session transcript. " +
	"Assess the student's understanding honestly and concretely, based only on what was said."

func summarizeSession(
	ctx context.Context,
	client *groq.Client,
	session orchestration.Session,
	transcript []orchestration.TranscriptEntry,
) (*sessionReport, error) {
	var b strings.Builder
	b.WriteString("Tutoring session")
	if session.Topic != "" {
		b.WriteString(" on " + session.Topic)
	}
	fmt.Fprintf(&b, " (%d turns):\n\n", session.Turns)
	for _, entry := range transcript {
		speaker := "Student"
		if entry.Role == orchestration.RoleAssistant {
			speaker = "Tutor"
		}
		b.WriteString(speaker + ": " + entry.Text + "\n")
	}

	return groq.PromptJSONSchema(ctx, client, b.String(), sessionReport{},
		llms.WithSystemPrompt(summarySystemPrompt),
	)
}

func printReport(w io.Writer, session orchestration.Session, report *sessionReport) {
	fmt.Fprintln(w)
	if session.Topic != "" {
		fmt.Fprintf(w, "Session summary - %s\n", session.Topic)
	} else {
		fmt.Fprintln(w, "Session summary")
	}
	fmt.Fprintln(w, report.Summary)

	if len(report.Strengths) > 0 {
		fmt.Fprintln(w, "\nWent well:")
		for _, s := range report.Strengths {
			fmt.Fprintln(w, "  - "+s)
		}
	}
	if len(report.AreasToReview) > 0 {
		fmt.Fprintln(w, "\nWorth revisiting:")
		for _, s := range report.AreasToReview {
			fmt.Fprintln(w, "  - "+s)
		}
	}
	if report.NextTopic != "" {
		fmt.Fprintf(w, "\nSuggested next topic: %s\n", report.NextTopic)
	}
}
