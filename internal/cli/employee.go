package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashwinyue/next-crm/internal/config"
	"github.com/ashwinyue/next-crm/internal/database"
	"github.com/ashwinyue/next-crm/internal/model"
	"github.com/ashwinyue/next-crm/internal/repository"
	"github.com/ashwinyue/next-crm/internal/service/auth"
)

var (
	employeeName     string
	employeeEmail    string
	employeePassword string
)

var employeeCmd = &cobra.Command{
	Use:   "employee",
	Short: "Manage employee accounts",
}

var employeeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an employee who can log in to the chat client",
	RunE:  runEmployeeCreate,
}

func init() {
	employeeCreateCmd.Flags().StringVar(&employeeName, "name", "", "display name")
	employeeCreateCmd.Flags().StringVar(&employeeEmail, "email", "", "login email")
	employeeCreateCmd.Flags().StringVar(&employeePassword, "password", "", "login password")
	_ = employeeCreateCmd.MarkFlagRequired("email")
	_ = employeeCreateCmd.MarkFlagRequired("password")

	employeeCmd.AddCommand(employeeCreateCmd)
}

func runEmployeeCreate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	info, err := createEmployee(cmd.Context(), cfg, &auth.CreateEmployeeRequest{
		Name:     employeeName,
		Email:    employeeEmail,
		Password: employeePassword,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created employee %s <%s>\n", info.ID, info.Email)
	return nil
}

func createEmployee(ctx context.Context, cfg *config.Config, req *auth.CreateEmployeeRequest) (*model.EmployeeInfo, error) {
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return auth.NewService(repository.NewAuthRepository(db.DB), cfg.Auth).CreateEmployee(ctx, req)
}
