package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkgate/backend/internal/config"
	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/logger"
	"linkgate/backend/internal/password"
	"linkgate/backend/internal/storage/postgres"
	sqlmigrate "linkgate/backend/internal/storage/sql"
)

// dbFlags 数据库连接参数，默认值取自 LINKGATE_DATABASE_* 环境变量
type dbFlags struct {
	dbType string
	dsn    string
}

func (f *dbFlags) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.dbType, "type", os.Getenv("LINKGATE_DATABASE_TYPE"), "数据库类型: postgres、mysql 或 sqlite")
	cmd.PersistentFlags().StringVar(&f.dsn, "dsn", os.Getenv("LINKGATE_DATABASE_DSN"), "数据库连接字符串")
}

func (f *dbFlags) validate() error {
	if f.dbType == "" || f.dsn == "" {
		return fmt.Errorf("--type and --dsn are required")
	}
	return nil
}

func main() {
	log := logger.NewDevelopmentLogger()
	defer log.Sync()

	var db dbFlags

	rootCmd := &cobra.Command{
		Use:          "linkctl",
		Short:        "linkgate 管理工具",
		SilenceUsage: true,
	}
	db.bind(rootCmd)

	rootCmd.AddCommand(
		newMigrateCmd(&db, log),
		newHashPasswordCmd(),
		newCreateLinkCmd(&db, log),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newMigrateCmd(db *dbFlags, log *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "执行数据库表结构迁移",
	}

	withMigrator := func(fn func(ctx context.Context, m *sqlmigrate.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if err := db.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			conn, err := sqlmigrate.Open(ctx, db.dbType, db.dsn)
			if err != nil {
				return err
			}
			defer conn.Close()

			m, err := sqlmigrate.NewMigrator(conn, db.dbType, log)
			if err != nil {
				return err
			}
			return fn(ctx, m)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "执行所有未执行的迁移",
			RunE: withMigrator(func(ctx context.Context, m *sqlmigrate.Migrator) error {
				ran, err := m.Up(ctx)
				if err != nil {
					return err
				}
				if len(ran) == 0 {
					fmt.Println("数据库已是最新版本")
					return nil
				}
				for _, v := range ran {
					fmt.Printf("✓ %s\n", v)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "回滚最近一次迁移",
			RunE: withMigrator(func(ctx context.Context, m *sqlmigrate.Migrator) error {
				v, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("✓ 已回滚 %s\n", v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "列出已执行的迁移",
			RunE: withMigrator(func(ctx context.Context, m *sqlmigrate.Migrator) error {
				applied, err := m.Applied(ctx)
				if err != nil {
					return err
				}
				for _, v := range applied {
					fmt.Println(v)
				}
				return nil
			}),
		},
	)
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "生成链接访问密码的 bcrypt 哈希",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			hash, err := password.Hash(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

// linkFlags create-link 参数
type linkFlags struct {
	linkType      string
	resourceID    string
	resourceName  string
	slug          string
	password      string
	expiresIn     time.Duration
	viewLimit     int64
	requireEmail  bool
	ndaText       string
	allowDownload bool
	inactive      bool

	allowEmails    []string
	blockEmails    []string
	allowDomains   []string
	blockDomains   []string
	allowCountries []string
	blockCountries []string
	allowIPs       []string
	blockIPs       []string
}

func (f *linkFlags) build(now time.Time) (*domain.ShareLink, *domain.AccessControlList, error) {
	link := &domain.ShareLink{
		ID:            uuid.New().String(),
		LinkType:      domain.LinkType(f.linkType),
		ResourceID:    f.resourceID,
		ResourceName:  f.resourceName,
		IsActive:      !f.inactive,
		RequireEmail:  f.requireEmail,
		RequireNDA:    f.ndaText != "",
		AllowDownload: f.allowDownload,
		NDAText:       f.ndaText,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if f.slug != "" {
		slug := f.slug
		link.Slug = &slug
	}
	if f.password != "" {
		hash, err := password.Hash(f.password)
		if err != nil {
			return nil, nil, err
		}
		link.PasswordHash = &hash
	}
	if f.expiresIn > 0 {
		expires := now.Add(f.expiresIn)
		link.ExpiresAt = &expires
	}
	if f.viewLimit > 0 {
		limit := f.viewLimit
		link.ViewLimit = &limit
	}
	if err := link.Validate(); err != nil {
		return nil, nil, err
	}

	for _, c := range append(append([]string{}, f.allowCountries...), f.blockCountries...) {
		if strings.EqualFold(c, "unknown") {
			continue
		}
		if err := domain.ValidateCountryCode(c); err != nil {
			return nil, nil, fmt.Errorf("%w: %s", err, c)
		}
	}

	acl := &domain.AccessControlList{
		LinkID:           link.ID,
		AllowedEmails:    f.allowEmails,
		BlockedEmails:    f.blockEmails,
		AllowedDomains:   f.allowDomains,
		BlockedDomains:   f.blockDomains,
		AllowedCountries: f.allowCountries,
		BlockedCountries: f.blockCountries,
		AllowedIPs:       f.allowIPs,
		BlockedIPs:       f.blockIPs,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if acl.Empty() {
		acl = nil
	}
	return link, acl, nil
}

func newCreateLinkCmd(db *dbFlags, log *zap.Logger) *cobra.Command {
	var f linkFlags

	cmd := &cobra.Command{
		Use:   "create-link",
		Short: "创建分享链接及其访问控制规则",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := db.validate(); err != nil {
				return err
			}
			link, acl, err := f.build(time.Now().UTC())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := postgres.OpenWithType(ctx, &config.DatabaseConfig{
				Type:            db.dbType,
				DSN:             db.dsn,
				MaxOpenConns:    2,
				MaxIdleConns:    1,
				ConnMaxLifetime: time.Minute,
			}, log)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SaveLink(ctx, link); err != nil {
				return fmt.Errorf("save link: %w", err)
			}
			if acl != nil {
				if err := store.SaveAccessControl(ctx, acl); err != nil {
					return fmt.Errorf("save access control: %w", err)
				}
			}

			fmt.Printf("✓ 链接已创建\n  ID:   %s\n  类型: %s\n", link.ID, link.LinkType)
			if link.Slug != nil {
				fmt.Printf("  Slug: %s\n", *link.Slug)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.linkType, "link-type", string(domain.LinkTypeDocument), "链接类型: document 或 dataroom")
	flags.StringVar(&f.resourceID, "resource", "", "资源 ID（必填）")
	flags.StringVar(&f.resourceName, "name", "", "资源名称")
	flags.StringVar(&f.slug, "slug", "", "自定义短链接")
	flags.StringVar(&f.password, "password", "", "访问密码")
	flags.DurationVar(&f.expiresIn, "expires-in", 0, "有效期，如 72h，0 表示永不过期")
	flags.Int64Var(&f.viewLimit, "view-limit", 0, "最大访问次数，0 表示不限")
	flags.BoolVar(&f.requireEmail, "require-email", false, "要求验证邮箱")
	flags.StringVar(&f.ndaText, "nda", "", "保密协议文本，非空时要求签署")
	flags.BoolVar(&f.allowDownload, "allow-download", false, "允许下载")
	flags.BoolVar(&f.inactive, "inactive", false, "创建为停用状态")
	flags.StringSliceVar(&f.allowEmails, "allow-email", nil, "允许的邮箱")
	flags.StringSliceVar(&f.blockEmails, "block-email", nil, "拒绝的邮箱")
	flags.StringSliceVar(&f.allowDomains, "allow-domain", nil, "允许的邮箱域名")
	flags.StringSliceVar(&f.blockDomains, "block-domain", nil, "拒绝的邮箱域名")
	flags.StringSliceVar(&f.allowCountries, "allow-country", nil, "允许的国家代码")
	flags.StringSliceVar(&f.blockCountries, "block-country", nil, "拒绝的国家代码")
	flags.StringSliceVar(&f.allowIPs, "allow-ip", nil, "允许的 IP 或 CIDR")
	flags.StringSliceVar(&f.blockIPs, "block-ip", nil, "拒绝的 IP 或 CIDR")
	_ = cmd.MarkFlagRequired("resource")

	return cmd
}
