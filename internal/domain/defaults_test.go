package domain

import (
	"testing"
	"time"
)

func TestNewMemberDefault(t *testing.T) {
	c := testContribution()
	now := c.DueDate.AddDate(0, 0, 8)
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))
	rec.ApplyLateFee(500, now)

	md := NewMemberDefault(rec, "comm1", now)

	if md.LateContributionID != rec.ID {
		t.Errorf("Expected late contribution ID %s, got %s", rec.ID, md.LateContributionID)
	}
	if md.UserID != rec.UserID {
		t.Errorf("Expected user ID %s, got %s", rec.UserID, md.UserID)
	}
	if md.CommunityID != "comm1" {
		t.Errorf("Expected community comm1, got %s", md.CommunityID)
	}
	if md.DefaultedAmount != 10500 {
		t.Errorf("Expected defaulted amount 10500, got %f", md.DefaultedAmount)
	}
	if md.LateFeeAmount != 500 {
		t.Errorf("Expected late fee 500, got %f", md.LateFeeAmount)
	}
	if md.Resolved {
		t.Error("New default must start unresolved")
	}
}

func TestNewRedistributionRequest(t *testing.T) {
	c := testContribution()
	now := c.DueDate.AddDate(0, 0, 8)
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))
	md := NewMemberDefault(rec, "comm1", now)

	members := []string{"user2", "user3", "user4", "user5"}
	expiresAt := now.Add(48 * time.Hour)

	req, responses := NewRedistributionRequest(md, members, 2500, expiresAt, now)

	if req.MemberCount != 4 {
		t.Errorf("Expected member count 4, got %d", req.MemberCount)
	}
	if req.ShareAmount != 2500 {
		t.Errorf("Expected share 2500, got %f", req.ShareAmount)
	}
	if req.Status != RedistributionPending {
		t.Errorf("Expected status %s, got %s", RedistributionPending, req.Status)
	}
	if len(responses) != 4 {
		t.Fatalf("Expected 4 responses, got %d", len(responses))
	}
	for i, resp := range responses {
		if resp.RequestID != req.ID {
			t.Errorf("Response %d not linked to request", i)
		}
		if resp.UserID != members[i] {
			t.Errorf("Expected response for %s, got %s", members[i], resp.UserID)
		}
		if !resp.ExpiresAt.Equal(expiresAt) {
			t.Errorf("Response %d expiry mismatch", i)
		}
	}
}

func TestReserveFund_CoverageCap(t *testing.T) {
	fund := &ReserveFund{Balance: 3000, MaxCoverageRate: 0.2}

	if cap := fund.CoverageCap(); cap != 600 {
		t.Errorf("Expected coverage cap 600, got %f", cap)
	}
}

func TestClampScore(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-10, 0},
		{0, 0},
		{50, 50},
		{100, 100},
		{130, 100},
	}

	for _, tt := range tests {
		if got := ClampScore(tt.input); got != tt.expected {
			t.Errorf("Expected clamp(%d) = %d, got %d", tt.input, tt.expected, got)
		}
	}
}

func TestContribution_Shortfall(t *testing.T) {
	c := &Contribution{ExpectedAmount: 10000, PaidAmount: 4000}
	if got := c.Shortfall(); got != 6000 {
		t.Errorf("Expected shortfall 6000, got %f", got)
	}

	c.PaidAmount = 12000
	if got := c.Shortfall(); got != 0 {
		t.Errorf("Expected shortfall 0 on overpayment, got %f", got)
	}
	if !c.IsFullyPaid() {
		t.Error("Expected overpaid contribution to be fully paid")
	}
}
