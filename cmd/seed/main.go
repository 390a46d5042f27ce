package main

import (
	"context"
	"fmt"
	"os"

	"hrtrainer/internal/app"
	"hrtrainer/internal/archive"
	"hrtrainer/internal/config"
	"hrtrainer/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// sampleCatalog lists the three house products with their opener symptoms.
const sampleCatalog = `{
  "products": {
    "汇仁肾宝片": {
      "initial_symptom": "最近总是腰酸腿软，晚上起夜三四次，人也没精神，怕冷",
      "产品说明": {
        "功能主治": "调和阴阳，温阳补肾，扶正固本。用于腰腿酸痛，精神不振，夜尿频多，畏寒怕冷；妇女白带清稀。",
        "用法用量": "口服，一次3片，一日3次。",
        "注意事项": ["忌辛辣、生冷、油腻食物", "感冒发热病人不宜服用", "服药4周症状无缓解，应去医院就诊"]
      },
      "价目表": [
        {"商品规格": "0.7g*126片/盒", "零售价": 199},
        {"商品规格": "0.7g*63片/盒", "零售价": 108}
      ]
    },
    "六味地黄丸": {
      "initial_symptom": "这段时间老是头晕耳鸣，腰膝发软，晚上睡觉还出汗",
      "产品说明": {
        "功能主治": "滋阴补肾。用于肾阴亏损，头晕耳鸣，腰膝酸软，骨蒸潮热，盗汗遗精。",
        "用法用量": "口服，一次8丸，一日3次。",
        "注意事项": ["忌不易消化食物", "感冒发热病人不宜服用"]
      },
      "价目表": [
        {"商品规格": "200丸/瓶", "零售价": 29.8}
      ]
    },
    "女金胶囊": {
      "initial_symptom": "我月经老是推后，量也少，来的时候肚子胀痛，腰也酸",
      "产品说明": {
        "功能主治": "调经养血，理气止痛。用于月经量少、后错，痛经，小腹胀痛，腰腿酸痛。",
        "用法用量": "口服，一次3粒，一日2次。",
        "注意事项": ["孕妇慎用", "忌食生冷食物"]
      },
      "价目表": [
        {"商品规格": "0.38g*60粒/盒", "零售价": 58}
      ]
    }
  }
}
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "seed",
		Short:        "Seed the product catalog and session archives",
		SilenceUsage: true,
	}

	var output string
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Write a sample product_config.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := writeCatalog(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	catalogCmd.Flags().StringVarP(&output, "output", "o", "product_config.json", "catalog file to write")

	var configPath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Copy file-archive sessions into the configured mongo or redis archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level, "")
			if err != nil {
				return err
			}
			defer log.Sync()

			n, err := importSessions(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d sessions into %s\n", n, cfg.Archive.Backend)
			return nil
		},
	}
	importCmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")

	root.AddCommand(catalogCmd, importCmd)
	return root
}

func writeCatalog(path string) error {
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

// importSessions reads every record under the file archive directory and
// saves it into the configured backend.
func importSessions(ctx context.Context, cfg *config.Config, log *zap.Logger) (int, error) {
	if cfg.Archive.Backend == config.ArchiveFile {
		return 0, fmt.Errorf("archive backend is %q; set ARCHIVE_BACKEND to mongo or redis", config.ArchiveFile)
	}

	src := archive.NewFileArchive(cfg.Archive.Dir, log)
	sessions, err := src.List(ctx)
	if err != nil {
		return 0, err
	}

	dst, closeArchive, err := app.OpenArchive(ctx, cfg.Archive, log)
	if err != nil {
		return 0, err
	}
	defer closeArchive(ctx)

	n := 0
	for _, s := range sessions {
		if err := dst.Save(ctx, s); err != nil {
			return n, fmt.Errorf("import session %s: %w", s.ID, err)
		}
		log.Info("imported session", zap.String("session_id", s.ID))
		n++
	}
	return n, nil
}
