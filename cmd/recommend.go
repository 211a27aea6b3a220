package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <songId|id>",
	Short: "输出某首歌的推荐结果和分数",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.engine.Scored(ctx, args[0])
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("没有可推荐的歌曲")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SCORE\tSONG ID\tTITLE\tARTIST\tALBUM")
		for _, r := range results {
			fmt.Fprintf(tw, "%.1f\t%s\t%s\t%s\t%s\n", r.Score, r.Song.SongID, r.Song.Title, r.Song.Artist, r.Song.Album)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(recommendCmd)
}
