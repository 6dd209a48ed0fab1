package squashfs

import "github.com/sirupsen/logrus"

// Log is the package-level logger used for diagnostic tracing throughout
// the codec (table reads, block resolution, writer pass progress). It
// defaults to logrus' standard logger; callers embedding this module in a
// larger service can point it at their own logger instance.
var Log logrus.FieldLogger = logrus.StandardLogger()
