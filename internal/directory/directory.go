// Package directory resolves which users an actor may message, by walking
// the organizational data kept in the tree store: counselor caseloads and
// per-school counselor rosters.
package directory

import (
	"context"
	"log"
	"sort"
	"strings"

	"counselhub/api/internal/roles"
	"counselhub/api/internal/treestore"
)

const (
	caseloadsPath        = "University Data/Caseloads"
	schoolCounselorsPath = "University Data/School Counsellors"
)

type Participant struct {
	Name     string     `json:"name"`
	Role     roles.Role `json:"role"`
	Initials string     `json:"initials"`
}

// Resolver answers participant queries against the injected store. Missing
// organizational data yields an empty result, never an error; the store
// contract is "absence is empty".
type Resolver struct {
	store treestore.Store
}

func NewResolver(store treestore.Store) *Resolver {
	return &Resolver{store: store}
}

// Participants returns everyone the actor may converse with. Counselors
// see their caseload students plus the other counselors at their school;
// students see their assigned counselor and that counselor's school peers.
// Students never see other students.
func (r *Resolver) Participants(ctx context.Context, actorName string, actorRole roles.Role) []Participant {
	if roles.Normalize(string(actorRole)) == roles.RoleCounselor {
		return r.forCounselor(ctx, actorName)
	}
	return r.forStudent(ctx, actorName)
}

func (r *Resolver) forCounselor(ctx context.Context, counselorName string) []Participant {
	var participants []Participant

	caseload, err := r.store.Get(ctx, treestore.Join(caseloadsPath, counselorName))
	if err != nil {
		log.Printf("directory: caseload lookup for %s: %v", counselorName, err)
	}
	students := treestore.Children(caseload)
	if students == nil {
		log.Printf("directory: no caseload found for counselor %s", counselorName)
	}
	for _, studentName := range sortedNames(students) {
		participants = append(participants, Participant{
			Name:     studentName,
			Role:     roles.RoleStudent,
			Initials: Initials(studentName),
		})
	}

	for _, peer := range r.schoolPeers(ctx, counselorName) {
		participants = append(participants, Participant{
			Name:     peer,
			Role:     roles.RoleCounselor,
			Initials: Initials(peer),
		})
	}
	return participants
}

func (r *Resolver) forStudent(ctx context.Context, studentName string) []Participant {
	var participants []Participant

	assigned := r.assignedCounselor(ctx, studentName)
	if assigned == "" {
		return participants
	}
	participants = append(participants, Participant{
		Name:     assigned,
		Role:     roles.RoleCounselor,
		Initials: Initials(assigned),
	})

	for _, peer := range r.schoolPeers(ctx, assigned) {
		participants = append(participants, Participant{
			Name:     peer,
			Role:     roles.RoleCounselor,
			Initials: Initials(peer),
		})
	}
	return participants
}

// assignedCounselor scans every caseload for the student; first match wins.
func (r *Resolver) assignedCounselor(ctx context.Context, studentName string) string {
	caseloads, err := r.store.Get(ctx, caseloadsPath)
	if err != nil {
		log.Printf("directory: caseloads lookup: %v", err)
		return ""
	}
	for _, counselorName := range sortedNames(treestore.Children(caseloads)) {
		students := treestore.Children(treestore.Children(caseloads)[counselorName])
		if _, ok := students[studentName]; ok {
			return counselorName
		}
	}
	return ""
}

// schoolPeers finds the school node containing the counselor and returns
// the other counselors listed there. A counselor is assumed to belong to
// at most one school; first match wins.
func (r *Resolver) schoolPeers(ctx context.Context, counselorName string) []string {
	schools, err := r.store.Get(ctx, schoolCounselorsPath)
	if err != nil {
		log.Printf("directory: school counsellors lookup: %v", err)
		return nil
	}
	schoolNodes := treestore.Children(schools)
	for _, schoolName := range sortedNames(schoolNodes) {
		counselors := treestore.Children(schoolNodes[schoolName])
		if _, ok := counselors[counselorName]; !ok {
			continue
		}
		var peers []string
		for _, name := range sortedNames(counselors) {
			if name != counselorName {
				peers = append(peers, name)
			}
		}
		return peers
	}
	return nil
}

// Initials derives a two-letter label: first plus last initial when the
// name has two or more space-separated parts, otherwise the first two
// characters. Case is preserved as-is.
func Initials(name string) string {
	parts := strings.Fields(strings.TrimSpace(name))
	if len(parts) >= 2 {
		first := []rune(parts[0])
		last := []rune(parts[len(parts)-1])
		return string(first[0]) + string(last[0])
	}
	runes := []rune(strings.TrimSpace(name))
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return string(runes)
}

func sortedNames(children map[string]treestore.Node) []string {
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
