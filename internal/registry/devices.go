package registry

import (
	_ "github.com/Alia5/VIIPER/device/dualshock4" // Register dualshock4 device handler
	_ "github.com/Alia5/VIIPER/device/keyboard"   // Register keyboard device handler
	_ "github.com/Alia5/VIIPER/device/mouse"      // Register mouse device handler
	_ "github.com/Alia5/VIIPER/device/steamdeck"  // Register steamdeck device handler
	_ "github.com/Alia5/VIIPER/device/xbox360"    // Register xbox360 device handler
)
