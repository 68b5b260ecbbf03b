package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docpilot/docpilot/pkg/presenter"
	"github.com/docpilot/docpilot/pkg/skills"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List skills discovered in the catalog directory",
	Run: func(cmd *cobra.Command, args []string) {
		p := presenter.New()

		registry := skills.NewRegistry(viper.GetString("skills_dir"))
		count, err := registry.Discover(cmd.Context())
		if err != nil {
			p.Error(err, "skill discovery failed")
			os.Exit(1)
		}
		if count == 0 {
			p.Warning(fmt.Sprintf("No skills found in %s", viper.GetString("skills_dir")))
			return
		}

		p.Section(fmt.Sprintf("Skills (%d)", count))
		for _, skill := range registry.List() {
			p.Info(fmt.Sprintf("%s - %s", skill.Name, skill.Description))
			if len(skill.Tags) > 0 {
				p.Info(fmt.Sprintf("  tags: %s", strings.Join(skill.Tags, ", ")))
			}
		}
	},
}
