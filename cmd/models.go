/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go.uber.org/zap"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List registered model backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildRegistry(zap.NewNop().Sugar(), "", "", "", "")
		if err != nil {
			return err
		}

		descs := reg.Descriptors()
		sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tALIASES\tFORMAT\tCONTEXT\tSTREAMING\tGPU")
		for _, d := range descs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%v\n",
				d.Name, strings.Join(d.Aliases, ","), d.Format,
				d.Capabilities.MaxContextLength,
				d.Capabilities.SupportsStreaming,
				d.Capabilities.SupportsGPU)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
