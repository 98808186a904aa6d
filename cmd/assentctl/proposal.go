package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// proposalView mirrors the server's proposal representation for display.
type proposalView struct {
	ID               string          `json:"id"`
	Summary          string          `json:"summary"`
	Payload          json.RawMessage `json:"payload"`
	PolicyID         string          `json:"policy_id"`
	PolicyVersion    int             `json:"policy_version"`
	Revision         int             `json:"revision"`
	State            string          `json:"state"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	Decisions        []decisionView  `json:"decisions"`
	VetoedBy         string          `json:"vetoed_by"`
	Escalated        bool            `json:"escalated"`
	DeliveryAttempts int             `json:"delivery_attempts"`
}

type decisionView struct {
	Reviewer  string    `json:"reviewer_id"`
	Roles     []string  `json:"roles"`
	Verdict   string    `json:"verdict"`
	Comment   string    `json:"comment"`
	Revision  int       `json:"revision"`
	DecidedAt time.Time `json:"decided_at"`
}

func newProposalCmd(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposal",
		Short: "Create, decide on, and inspect proposals",
	}
	cmd.AddCommand(newProposalCreateCmd(client))
	cmd.AddCommand(newProposalDecideCmd(client))
	cmd.AddCommand(newProposalStatusCmd(client))
	cmd.AddCommand(newProposalListCmd(client))
	cmd.AddCommand(newProposalRedeliverCmd(client))
	return cmd
}

func newProposalCreateCmd(client *apiClient) *cobra.Command {
	var (
		payloadPath string
		policyID    string
		summary     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a proposal for review",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := os.ReadFile(payloadPath)
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			body := map[string]any{
				"summary":   summary,
				"payload":   json.RawMessage(payload),
				"policy_id": policyID,
			}
			var created proposalView
			if err := client.do(cmd.Context(), http.MethodPost, "/proposals", body, &created); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&payloadPath, "payload", "", "path to the JSON payload file")
	cmd.Flags().StringVar(&policyID, "policy", "", "approval policy id")
	cmd.Flags().StringVar(&summary, "summary", "", "human-readable summary")
	_ = cmd.MarkFlagRequired("payload")
	_ = cmd.MarkFlagRequired("policy")
	return cmd
}

func newProposalDecideCmd(client *apiClient) *cobra.Command {
	var (
		proposalID    string
		roles         []string
		verdict       string
		amendmentPath string
		comment       string
	)
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Record an approve, reject, or amend decision",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{"verdict": verdict}
			if len(roles) > 0 {
				body["roles"] = roles
			}
			if comment != "" {
				body["comment"] = comment
			}
			if amendmentPath != "" {
				amendment, err := os.ReadFile(amendmentPath)
				if err != nil {
					return fmt.Errorf("read amendment: %w", err)
				}
				body["amendment"] = json.RawMessage(amendment)
			}
			var updated proposalView
			path := "/proposals/" + url.PathEscape(proposalID) + "/decisions"
			if err := client.do(cmd.Context(), http.MethodPost, path, body, &updated); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", updated.ID, updated.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&proposalID, "id", "", "proposal id")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role the decision counts under (repeatable, defaults to all token roles)")
	cmd.Flags().StringVar(&verdict, "verdict", "", "approve, reject, or amend")
	cmd.Flags().StringVar(&amendmentPath, "amendment", "", "path to the replacement payload (amend only)")
	cmd.Flags().StringVar(&comment, "comment", "", "free-form reviewer comment")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("verdict")
	return cmd
}

func newProposalStatusCmd(client *apiClient) *cobra.Command {
	var proposalID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a proposal's state and decision history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p proposalView
			path := "/proposals/" + url.PathEscape(proposalID)
			if err := client.do(cmd.Context(), http.MethodGet, path, nil, &p); err != nil {
				return err
			}
			printProposal(cmd, &p)
			return nil
		},
	}
	cmd.Flags().StringVar(&proposalID, "id", "", "proposal id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func printProposal(cmd *cobra.Command, p *proposalView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:        %s\n", p.ID)
	fmt.Fprintf(out, "State:     %s\n", p.State)
	fmt.Fprintf(out, "Summary:   %s\n", p.Summary)
	fmt.Fprintf(out, "Policy:    %s (v%d)\n", p.PolicyID, p.PolicyVersion)
	fmt.Fprintf(out, "Revision:  %d\n", p.Revision)
	fmt.Fprintf(out, "Created:   %s\n", p.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Expires:   %s\n", p.ExpiresAt.Format(time.RFC3339))
	if p.VetoedBy != "" {
		fmt.Fprintf(out, "Vetoed by: %s\n", p.VetoedBy)
	}
	if p.Escalated {
		fmt.Fprintln(out, "Escalated: yes")
	}
	if p.DeliveryAttempts > 0 {
		fmt.Fprintf(out, "Delivery attempts: %d\n", p.DeliveryAttempts)
	}
	if len(p.Decisions) == 0 {
		return
	}
	fmt.Fprintln(out, "Decisions:")
	for _, d := range p.Decisions {
		fmt.Fprintf(out, "  %s  %-7s  rev %d  %s  %v",
			d.DecidedAt.Format(time.RFC3339), d.Verdict, d.Revision, d.Reviewer, d.Roles)
		if d.Comment != "" {
			fmt.Fprintf(out, "  %q", d.Comment)
		}
		fmt.Fprintln(out)
	}
}

func newProposalListCmd(client *apiClient) *cobra.Command {
	var (
		state    string
		policyID string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			if policyID != "" {
				q.Set("policy_id", policyID)
			}
			path := "/proposals"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var resp struct {
				Proposals []proposalView `json:"proposals"`
			}
			if err := client.do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			for _, p := range resp.Proposals {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%-15s\t%s\n", p.ID, p.State, p.Summary)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	cmd.Flags().StringVar(&policyID, "policy", "", "filter by policy id")
	return cmd
}

func newProposalRedeliverCmd(client *apiClient) *cobra.Command {
	var proposalID string
	cmd := &cobra.Command{
		Use:   "redeliver",
		Short: "Retry delivery of an approved proposal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p proposalView
			path := "/proposals/" + url.PathEscape(proposalID) + "/deliver"
			if err := client.do(cmd.Context(), http.MethodPost, path, nil, &p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.ID, p.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&proposalID, "id", "", "proposal id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
