package slack

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pscheid92/commhub/internal/domain"
	"github.com/slack-go/slack"
)

const (
	PolicyHeader      = "New Policy Sold!"
	LeaderboardHeader = "Daily Sales Leaderboard"
	leaderboardSize   = 10
)

type PolicyDetails struct {
	AgentName     string
	AnnualPremium float64
	CarrierName   string
	ProductName   string
	EffectiveDate time.Time
	PolicyNumber  string
	ClientName    string
}

// PolicyText is the fallback text shown in notifications.
func PolicyText(d PolicyDetails) string {
	return fmt.Sprintf("%s %s - %s", PolicyHeader, d.AgentName, FormatUSD(d.AnnualPremium))
}

// PolicyNotificationBlocks renders a sold policy. The client name is only
// shown when includeClient is set.
func PolicyNotificationBlocks(d PolicyDetails, includeClient bool, now time.Time) []slack.Block {
	fields := []*slack.TextBlockObject{
		mrkdwn("*Agent:*\n" + d.AgentName),
		mrkdwn("*Annual Premium:*\n" + FormatUSD(d.AnnualPremium)),
		mrkdwn("*Carrier:*\n" + d.CarrierName),
		mrkdwn("*Product:*\n" + d.ProductName),
		mrkdwn("*Effective Date:*\n" + d.EffectiveDate.Format("Jan 2, 2006")),
		mrkdwn("*Policy #:*\n" + d.PolicyNumber),
	}
	if includeClient && d.ClientName != "" {
		fields = append(fields, mrkdwn("*Client:*\n"+d.ClientName))
	}

	return []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, PolicyHeader, true, false)),
		slack.NewSectionBlock(nil, fields, nil),
		slack.NewContextBlock("", mrkdwn("Posted by Commission Tracker at "+now.Format("3:04 PM MST"))),
	}
}

// LeaderboardBlocks renders the top agents. entries must be sorted by premium.
func LeaderboardBlocks(entries []domain.LeaderboardEntry, agencyTotal float64, now time.Time) []slack.Block {
	lines := make([]string, 0, leaderboardSize)
	for i, e := range entries {
		if i == leaderboardSize {
			break
		}
		noun := "policies"
		if e.PolicyCount == 1 {
			noun = "policy"
		}
		lines = append(lines, fmt.Sprintf("%s *%s* - %s (%d %s)", rankLabel(i+1), e.AgentName, FormatUSD(e.TotalPremium), e.PolicyCount, noun))
	}

	body := strings.Join(lines, "\n")
	if body == "" {
		body = "_No sales recorded yet_"
	}

	return []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, LeaderboardHeader, true, false)),
		slack.NewSectionBlock(mrkdwn("*Top Performers - "+now.Format("January 2, 2006")+"*"), nil, nil),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(mrkdwn(body), nil, nil),
		slack.NewDividerBlock(),
		slack.NewContextBlock("", mrkdwn("*Total Agency Production:* "+FormatUSD(agencyTotal))),
	}
}

func rankLabel(rank int) string {
	switch rank {
	case 1:
		return ":first_place_medal:"
	case 2:
		return ":second_place_medal:"
	case 3:
		return ":third_place_medal:"
	default:
		return strconv.Itoa(rank) + "."
	}
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

// FormatUSD renders whole dollars with thousands separators, e.g. $12,345.
func FormatUSD(amount float64) string {
	n := int64(math.Round(amount))
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}

	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return sign + "$" + b.String()
}
