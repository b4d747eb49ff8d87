package token

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

// Command creates the token parent command for API credential management.
func Command(settings *conf.Settings) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	tokenCmd.AddCommand(CreateCommand(settings))

	return tokenCmd
}

// CreateCommand returns a command that creates a user (when missing) and
// issues an API token for it. This is how a fresh deployment gets its first
// admin credential.
func CreateCommand(settings *conf.Settings) *cobra.Command {
	var (
		username string
		name     string
		acls     []string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API token for a user, creating the user if needed",
		Long: `Issue an API token for a user, creating the user if needed.

Examples:
  # Bootstrap the first admin credential
  skyhub token create --username=admin --admin

  # Issue a scoped token for an existing user
  skyhub token create --username=astrid --acl="Upload data" --acl="Run analyses"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			if admin {
				acls = []string{datastore.ACLSystemAdmin}
			}
			if err := validateACLs(acls); err != nil {
				return err
			}

			store := datastore.New(settings)
			if store == nil {
				return fmt.Errorf("no database backend enabled in configuration")
			}
			if err := store.Open(); err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					fmt.Printf("failed to close database: %v\n", err)
				}
			}()

			user, err := ensureUser(store, username)
			if err != nil {
				return err
			}
			if err := ensurePublicMembership(store, user.ID); err != nil {
				return err
			}

			token := datastore.Token{
				ID:     uuid.NewString(),
				Name:   name,
				UserID: user.ID,
				ACLs:   datastore.StringList(acls),
			}
			if err := store.CreateToken(&token); err != nil {
				return fmt.Errorf("failed to create token: %w", err)
			}

			fmt.Printf("Token for %s: %s\n", user.Username, token.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username the token belongs to")
	cmd.Flags().StringVar(&name, "name", "cli", "Display name for the token")
	cmd.Flags().StringSliceVar(&acls, "acl", nil, "ACL to attach, may be repeated")
	cmd.Flags().BoolVar(&admin, "admin", false, "Issue a System admin token, overrides --acl")

	return cmd
}

// knownACLs is the set of ACL identifiers tokens may carry.
var knownACLs = map[string]bool{
	datastore.ACLUploadData:        true,
	datastore.ACLManageSources:     true,
	datastore.ACLManageGroups:      true,
	datastore.ACLManageAllocations: true,
	datastore.ACLRunAnalyses:       true,
	datastore.ACLSystemAdmin:       true,
}

func validateACLs(acls []string) error {
	for _, acl := range acls {
		if !knownACLs[acl] {
			return fmt.Errorf("unknown ACL: %q", acl)
		}
	}
	return nil
}

// ensureUser fetches the user, creating it together with its single-user
// group when it does not exist yet.
func ensureUser(store datastore.Interface, username string) (datastore.User, error) {
	user, err := store.GetUserByUsername(username)
	if err == nil {
		return user, nil
	}
	if !errors.IsNotFound(err) {
		return datastore.User{}, fmt.Errorf("failed to look up user: %w", err)
	}

	user = datastore.User{Username: username}
	if err := store.CreateUser(&user); err != nil {
		return datastore.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Printf("Created user %s\n", username)
	return user, nil
}

// ensurePublicMembership makes sure the Public group exists and the user is
// a member of it. Every deployment shares data through this group.
func ensurePublicMembership(store datastore.Interface, userID uint) error {
	group, err := store.GetGroupByName(datastore.PublicGroupName)
	if err != nil {
		if !errors.IsNotFound(err) {
			return fmt.Errorf("failed to look up public group: %w", err)
		}
		group = datastore.Group{Name: datastore.PublicGroupName}
		if err := store.CreateGroup(&group); err != nil {
			return fmt.Errorf("failed to create public group: %w", err)
		}
	}

	membership := datastore.GroupUser{GroupID: group.ID, UserID: userID}
	if err := store.AddGroupUser(&membership); err != nil && !errors.IsConflict(err) {
		return fmt.Errorf("failed to add public group membership: %w", err)
	}
	return nil
}
