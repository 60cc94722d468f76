package actions

import (
	"strings"

	"github.com/spf13/viper"
)

// Inputs reads step inputs. The runner exposes an input named "upload-database"
// as INPUT_UPLOAD-DATABASE, which is what viper resolves under the INPUT prefix.
type Inputs struct {
	v *viper.Viper
}

func NewInputs(v *viper.Viper) *Inputs {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("INPUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(" ", "_"))
	v.AutomaticEnv()
	return &Inputs{v: v}
}

// Optional returns the trimmed input value, or "" when unset.
func (in *Inputs) Optional(name string) string {
	return strings.TrimSpace(in.v.GetString(name))
}
