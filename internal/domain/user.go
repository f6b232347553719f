package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role distinguishes standard subscribers from administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is a digest subscriber.
type User struct {
	ID               string
	Email            string
	Name             string
	Title            string
	ExpertiseLevel   string
	Interests        []string
	Preferences      map[string]string
	Active           bool
	Role             Role
	AdminWelcomeSent bool
	CreatedAt        time.Time
}

// NeedsAdminWelcome reports whether the one-time admin notice is still owed.
func (u User) NeedsAdminWelcome() bool {
	return u.Role == RoleAdmin && !u.AdminWelcomeSent
}

// Profile is the ranking-facing view of a user.
type Profile struct {
	Name           string
	Title          string
	Background     string
	ExpertiseLevel string
	Interests      []string
	Preferences    map[string]string
}

// Profile synthesizes the ranking profile from stored user fields.
func (u User) Profile() Profile {
	background := strings.TrimSpace(u.Title)
	if u.ExpertiseLevel != "" {
		background = fmt.Sprintf("%s - %s", background, u.ExpertiseLevel)
	}

	return Profile{
		Name:           u.Name,
		Title:          u.Title,
		Background:     background,
		ExpertiseLevel: u.ExpertiseLevel,
		Interests:      append([]string(nil), u.Interests...),
		Preferences:    u.Preferences,
	}
}
