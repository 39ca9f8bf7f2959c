package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/myx-labs/api-mecs/internal/roblox"
	dErrors "github.com/myx-labs/api-mecs/pkg/domain-errors"
	"github.com/myx-labs/api-mecs/pkg/requestcontext"
)

// Candidate is one account under evaluation. All fetches go through a
// per-evaluation memoizing view of the platform client, so two rules
// reading the same signal cost one upstream call.
type Candidate struct {
	svc *Service

	userID     int64
	username   string
	lastRoleID int64

	fetch      *roblox.Memo
	membership *roblox.GroupMembership
}

// UserID returns the candidate's account id.
func (c *Candidate) UserID() int64 { return c.userID }

// Username returns the candidate's name, resolving it from the profile
// endpoint on first use.
func (c *Candidate) Username(ctx context.Context) (string, error) {
	if c.username != "" {
		return c.username, nil
	}
	user, err := c.fetch.User(ctx, c.userID)
	if err != nil {
		return "", err
	}
	c.username = user.Name
	return c.username, nil
}

// Membership returns the candidate's membership in the administered group,
// or nil when they are not a member. Resolving it updates the candidate's
// last-known role.
func (c *Candidate) Membership(ctx context.Context) (*roblox.GroupMembership, error) {
	memberships, err := c.fetch.GroupRoles(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	for i := range memberships {
		if memberships[i].Group.ID == c.svc.policy.GroupID {
			c.membership = &memberships[i]
			c.lastRoleID = memberships[i].Role.ID
			return c.membership, nil
		}
	}
	return nil, nil
}

// OwnsHCC reports the supplementary gamepass ownership signal.
func (c *Candidate) OwnsHCC(ctx context.Context) (bool, error) {
	return c.fetch.OwnsGamepass(ctx, c.userID, c.svc.policy.HCCGamepassID)
}

// Exempt reports whether a role is outside the covered set entirely.
func (c *Candidate) Exempt(roleID int64) bool {
	return !c.svc.policy.RoleCovered(roleID)
}

// TestStatus runs the applicable rule tests. A banned account aborts the
// whole evaluation rather than producing a partial result. With
// blacklistOnly set, only the blacklist rule runs.
func (c *Candidate) TestStatus(ctx context.Context, blacklistOnly bool) (*TestStatus, error) {
	// Profile and memberships feed several rules; warm both concurrently.
	g, gctx := errgroup.WithContext(ctx)
	var user *roblox.User
	g.Go(func() error {
		var err error
		user, err = c.fetch.User(gctx, c.userID)
		return err
	})
	g.Go(func() error {
		_, err := c.fetch.GroupRoles(gctx, c.userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch candidate signals")
	}

	c.username = user.Name
	if user.IsBanned {
		return nil, ErrBanned
	}

	status := &TestStatus{}
	if blacklistOnly {
		bl, err := c.testBlacklist(ctx)
		if err != nil {
			return nil, err
		}
		status.Blacklist = bl
		return status, nil
	}

	// The six rules are independent; their signal fetches run concurrently.
	// Any signal that cannot be fetched at all aborts the evaluation; the
	// accessory rule absorbs the private-inventory case internally.
	g, gctx = errgroup.WithContext(ctx)
	run := func(name string, dst **IndividualTest, test func(context.Context) (*IndividualTest, error)) {
		g.Go(func() error {
			start := time.Now()
			result, err := test(gctx)
			c.svc.metrics.ObserveSignalLatency(name, time.Since(start))
			if err != nil {
				return err
			}
			*dst = result
			return nil
		})
	}
	run("age", &status.Age, c.testAge)
	run("blacklist", &status.Blacklist, c.testBlacklist)
	run("accessory", &status.Accessory, c.testAccessory)
	run("badges", &status.Badges, c.testBadges)
	run("friends", &status.Friends, c.testFriends)
	run("groups", &status.Groups, c.testGroups)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return status, nil
}

// CriteriaPassing composes TestStatus into a single verdict. The blacklist
// rule gates everything; a blacklist-only evaluation needs nothing else.
// A full evaluation additionally requires the age rule and the configured
// share of the remaining four rules.
func (c *Candidate) CriteriaPassing(ctx context.Context, blacklistOnly bool) (bool, *TestStatus, error) {
	status, err := c.TestStatus(ctx, blacklistOnly)
	if err != nil {
		return false, nil, err
	}

	pass := false
	if status.Blacklist != nil && status.Blacklist.Status {
		if blacklistOnly {
			pass = true
		} else if status.Age != nil && status.Age.Status {
			pass = status.SecondaryPassRatio() >= c.svc.policy.PassingRatio
		}
	}

	if pass {
		c.svc.metrics.CountEvaluation("pass")
	} else {
		c.svc.metrics.CountEvaluation("fail")
	}
	return pass, status, nil
}

// Evaluate runs the rule tests and packages them with membership metadata
// for the HTTP surface.
func (c *Candidate) Evaluate(ctx context.Context, blacklistOnly bool) (*Evaluation, error) {
	status, err := c.TestStatus(ctx, blacklistOnly)
	if err != nil {
		return nil, err
	}
	membership, err := c.Membership(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch group membership")
	}

	info := CandidateInfo{
		UserID:   c.userID,
		Username: c.username,
	}
	if membership != nil {
		info.GroupMembership = membership
		info.Exempt = c.Exempt(membership.Role.ID)
	}
	// Supplementary signal; omitted from the response when unavailable.
	if owns, err := c.OwnsHCC(ctx); err == nil {
		info.HCCGamepassOwned = &owns
	}
	return &Evaluation{User: info, Tests: status}, nil
}

// RankRole requests a group-role change to the target role. A current role
// outside the covered set, or already equal to the target, is a benign no-op.
func (c *Candidate) RankRole(ctx context.Context, targetRoleID int64) (*RankResult, error) {
	current := c.lastRoleID
	if !c.svc.policy.RoleCovered(current) {
		c.svc.metrics.CountRankChange("not_covered")
		return &RankResult{Changed: false, Description: "current role is not covered"}, nil
	}
	if current == targetRoleID {
		c.svc.metrics.CountRankChange("unchanged")
		return &RankResult{Changed: false, Description: "target role matches current role"}, nil
	}

	if err := c.svc.client.SetRank(ctx, c.svc.policy.GroupID, c.userID, targetRoleID); err != nil {
		c.svc.metrics.CountRankChange("error")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "rank change failed")
	}

	c.svc.metrics.CountRankChange("changed")
	if c.svc.logger != nil {
		name, _ := c.Username(ctx)
		c.svc.logger.InfoContext(ctx, "account ranked",
			"user_id", c.userID,
			"username", name,
			"role", roleName(c.svc.policy, targetRoleID),
		)
	}
	return &RankResult{Changed: true, Description: fmt.Sprintf("account ranked to %s", roleName(c.svc.policy, targetRoleID))}, nil
}

// AutomatedReview fetches current membership, derives the evaluation scope
// from the current role, computes the verdict, and performs the matching
// rank change. The whole operation holds the process-wide write gate.
func (c *Candidate) AutomatedReview(ctx context.Context) (*ReviewResult, error) {
	if err := c.svc.writeGate.Acquire(ctx, 1); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "write gate unavailable")
	}
	defer c.svc.writeGate.Release(1)

	membership, err := c.Membership(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch group membership")
	}
	if membership == nil {
		return nil, ErrNotInGroup
	}

	role := membership.Role.ID
	// Citizens only need a blacklist re-check; both citizen and pending
	// processing honor the global processing switch.
	blacklistOnly := role == c.svc.policy.CitizenRoleID
	if (role == c.svc.policy.CitizenRoleID || role == c.svc.policy.PendingRoleID) && !c.svc.processPending {
		return nil, ErrProcessingDisabled
	}

	pass, _, err := c.CriteriaPassing(ctx, blacklistOnly)
	if err != nil {
		return nil, err
	}

	target := c.svc.policy.CitizenRoleID
	if !pass {
		target = c.svc.policy.IDCRoleID
	}
	rank, err := c.RankRole(ctx, target)
	if err != nil {
		return nil, err
	}

	return &ReviewResult{
		Changed: rank.Changed,
		Passing: pass,
		Exempt:  c.Exempt(role),
	}, nil
}

// testAge checks the account-age rule.
func (c *Candidate) testAge(ctx context.Context) (*IndividualTest, error) {
	user, err := c.fetch.User(ctx, c.userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch account age")
	}
	age := user.AgeDays(requestcontext.Now(ctx))
	min := c.svc.policy.MinAgeDays
	return &IndividualTest{
		Status: age >= min,
		Values: Values{Pass: min, Current: age},
		Descriptions: Descriptions{
			Pass:    fmt.Sprintf("At least %d days old", min),
			Current: fmt.Sprintf("Account age is %d", age),
		},
	}, nil
}

// testAccessory checks the accessory-count rule. A private inventory cannot
// be penalized, so an authorization failure counts as a pass.
func (c *Candidate) testAccessory(ctx context.Context) (*IndividualTest, error) {
	min := c.svc.policy.MinAccessories
	result := &IndividualTest{
		Values: Values{Pass: min},
		Descriptions: Descriptions{
			Pass: fmt.Sprintf("At least %d accessories or private inventory", min),
		},
	}

	count, err := c.fetch.AccessoryCount(ctx, c.userID)
	if err != nil {
		if errors.Is(err, roblox.ErrPrivateInventory) {
			result.Status = true
			result.Values.Current = nil
			result.Descriptions.Current = "Private inventory"
			return result, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch inventory")
	}

	result.Status = count >= min
	result.Values.Current = count
	result.Descriptions.Current = fmt.Sprintf("%d accessory(s) found", count)
	return result, nil
}

// testBadges checks the badge-count rule.
func (c *Candidate) testBadges(ctx context.Context) (*IndividualTest, error) {
	count, err := c.fetch.BadgeCount(ctx, c.userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch badges")
	}
	min := c.svc.policy.MinBadges
	return &IndividualTest{
		Status: count >= min,
		Values: Values{Pass: min, Current: count},
		Descriptions: Descriptions{
			Pass:    fmt.Sprintf("At least %d badges", min),
			Current: fmt.Sprintf("User has %d badge(s)", count),
		},
	}, nil
}

// testFriends checks the friend-count rule.
func (c *Candidate) testFriends(ctx context.Context) (*IndividualTest, error) {
	count, err := c.fetch.FriendCount(ctx, c.userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch friend count")
	}
	min := c.svc.policy.MinFriends
	return &IndividualTest{
		Status: count >= min,
		Values: Values{Pass: min, Current: count},
		Descriptions: Descriptions{
			Pass:    fmt.Sprintf("At least %d friends", min),
			Current: fmt.Sprintf("User has %d friend(s)", count),
		},
	}, nil
}

// testGroups checks the group-count rule.
func (c *Candidate) testGroups(ctx context.Context) (*IndividualTest, error) {
	memberships, err := c.fetch.GroupRoles(ctx, c.userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch group memberships")
	}
	count := len(memberships)
	min := c.svc.policy.MinGroups
	return &IndividualTest{
		Status: count >= min,
		Values: Values{Pass: min, Current: count},
		Descriptions: Descriptions{
			Pass:    fmt.Sprintf("At least %d groups", min),
			Current: fmt.Sprintf("User is in %d group(s)", count),
		},
	}, nil
}

// testBlacklist fails closed: if either blacklist cannot be retrieved the
// evaluation aborts instead of treating the rule as passing or failing.
func (c *Candidate) testBlacklist(ctx context.Context) (*IndividualTest, error) {
	result := &IndividualTest{
		Status:   true,
		Values:   Values{Pass: true, Current: true},
		Metadata: &BlacklistMetadata{},
		Descriptions: Descriptions{
			Pass: "Not a blacklisted user and not in any blacklisted groups",
		},
	}

	users, err := c.svc.blacklist.Users(ctx, false)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch user blacklist")
	}
	var reasons []string
	for _, entry := range users {
		if entry.ID == c.userID {
			result.Status = false
			result.Values.Current = false
			result.Metadata.Player = true
			if entry.Reason != "" {
				reasons = append(reasons, entry.Reason)
			}
			break
		}
	}
	if result.Metadata.Player {
		result.Descriptions.Current = "User is individually blacklisted"
	} else {
		result.Descriptions.Current = "User is not individually blacklisted"
	}

	blGroups, err := c.svc.blacklist.Groups(ctx, false)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch group blacklist")
	}
	memberships, err := c.fetch.GroupRoles(ctx, c.userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "unable to fetch group memberships")
	}
	matched := make([]blacklistedItem, 0)
	for _, membership := range memberships {
		for _, entry := range blGroups {
			if membership.Group.ID == entry.ID {
				matched = append(matched, blacklistedItem{
					ID:     membership.Group.ID,
					Name:   membership.Group.Name,
					Reason: entry.Reason,
				})
				if entry.Reason != "" {
					reasons = append(reasons, entry.Reason)
				}
			}
		}
	}
	if len(matched) > 0 {
		result.Status = false
		result.Values.Current = false
		result.Metadata.Groups = matched
		result.Descriptions.Current = fmt.Sprintf("Account %d is in %d blacklisted groups", c.userID, len(matched))
	} else if !result.Metadata.Player {
		result.Descriptions.Current = fmt.Sprintf("Account %d is not in any blacklisted groups", c.userID)
	}

	if len(reasons) > 0 {
		name, _ := c.Username(ctx)
		result.Metadata.Reason = NormalizeReason(strings.Join(reasons, " / "), name)
	}
	return result, nil
}
