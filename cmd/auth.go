package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/ait/internal/auth"
	"github.com/joescharf/ait/internal/models"
	"github.com/joescharf/ait/internal/output"
	"github.com/joescharf/ait/internal/router"
)

// stdin is where interactive prompts read from, replaceable in tests.
var stdin io.Reader = os.Stdin

var (
	authUsername string
	authPassword string

	regEmail         string
	regConfirm       string
	regFirstName     string
	regLastName      string
	regDepartment    string
	regStudentNumber string
	regStaffNumber   string
)

var loginCmd = &cobra.Command{
	Use:       "login <student|lecturer|registrar>",
	Short:     "Sign in as a role",
	Long:      "Sign in as a student, lecturer or registrar. Prompts for the password when --password is not given.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"student", "lecturer", "registrar"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return loginRun(cmd.Context(), args[0])
	},
}

var registerCmd = &cobra.Command{
	Use:       "register <student|lecturer|registrar>",
	Short:     "Create an account and sign in",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"student", "lecturer", "registrar"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return registerRun(cmd.Context(), args[0])
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return logoutRun(cmd.Context())
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return whoamiRun(cmd.Context())
	},
}

func init() {
	loginCmd.Flags().StringVarP(&authUsername, "username", "u", "", "Username or email (required)")
	loginCmd.Flags().StringVarP(&authPassword, "password", "p", "", "Password (prompted when omitted)")
	_ = loginCmd.MarkFlagRequired("username")

	registerCmd.Flags().StringVarP(&authUsername, "username", "u", "", "Username (required)")
	registerCmd.Flags().StringVarP(&authPassword, "password", "p", "", "Password (prompted when omitted)")
	registerCmd.Flags().StringVar(&regConfirm, "confirm-password", "", "Password again (prompted when omitted)")
	registerCmd.Flags().StringVar(&regEmail, "email", "", "Email address (required)")
	registerCmd.Flags().StringVar(&regFirstName, "first-name", "", "First name (required)")
	registerCmd.Flags().StringVar(&regLastName, "last-name", "", "Last name (required)")
	registerCmd.Flags().StringVar(&regDepartment, "department", "", "Department")
	registerCmd.Flags().StringVar(&regStudentNumber, "student-number", "", "Student number (students)")
	registerCmd.Flags().StringVar(&regStaffNumber, "staff-number", "", "Staff number (lecturers and registrars)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func loginRun(ctx context.Context, roleArg string) error {
	role, err := models.ParseRole(strings.ToLower(roleArg))
	if err != nil {
		return err
	}
	d, err := getApp(ctx)
	if err != nil {
		return err
	}

	password := authPassword
	if password == "" {
		if password, err = prompt("Password: "); err != nil {
			return err
		}
	}

	if dryRun {
		ui.DryRunMsg("Would sign in as %s %s", role, authUsername)
		return nil
	}

	sess, err := d.auth.Login(ctx, auth.LoginRequest{Identifier: authUsername, Password: password, Role: role})
	if err != nil {
		return err
	}
	ui.Success("Signed in as %s (%s)", output.Cyan(sess.Username), sess.Role)
	ui.VerboseLog("Dashboard: ait dashboard")
	return nil
}

func registerRun(ctx context.Context, roleArg string) error {
	role, err := models.ParseRole(strings.ToLower(roleArg))
	if err != nil {
		return err
	}
	d, err := getApp(ctx)
	if err != nil {
		return err
	}

	password, confirm := authPassword, regConfirm
	if password == "" {
		if password, err = prompt("Password: "); err != nil {
			return err
		}
	}
	if confirm == "" {
		if confirm, err = prompt("Confirm password: "); err != nil {
			return err
		}
	}

	req := auth.RegisterRequest{
		Role:            role,
		Username:        authUsername,
		Email:           regEmail,
		Password:        password,
		ConfirmPassword: confirm,
		FirstName:       regFirstName,
		LastName:        regLastName,
		Department:      regDepartment,
		StudentNumber:   regStudentNumber,
		StaffNumber:     regStaffNumber,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would register %s %s <%s>", role, authUsername, regEmail)
		return nil
	}

	sess, err := d.auth.Register(ctx, req)
	if err != nil {
		return err
	}
	ui.Success("Registered and signed in as %s (%s)", output.Cyan(sess.Username), sess.Role)
	return nil
}

func logoutRun(ctx context.Context) error {
	d, err := getApp(ctx)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would sign out %s", d.router.Current().Session.Username)
		return nil
	}
	if err := d.auth.Logout(ctx); err != nil {
		return err
	}
	ui.Success("Signed out")
	return nil
}

func whoamiRun(ctx context.Context) error {
	d, err := getApp(ctx)
	if err != nil {
		return err
	}
	snap := d.router.Current()

	if jsonOut {
		return ui.JSON(map[string]any{
			"state":    snap.State.String(),
			"role":     snap.Role(),
			"username": snap.Session.Username,
			"user_id":  snap.Session.UserID,
		})
	}
	if snap.State != router.StateAuthenticated {
		ui.Info("Not signed in")
		return nil
	}
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(snap.Session.Username), snap.Role())
	if snap.Session.UserID != "" {
		ui.VerboseLog("User ID: %s", snap.Session.UserID)
	}
	return nil
}

// prompt reads one line from stdin.
func prompt(label string) (string, error) {
	fmt.Fprint(ui.ErrOut, label)
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
