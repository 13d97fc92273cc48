// ABOUTME: Built-in dialogue tree used when no tree file is configured
// ABOUTME: Booking and support flows for the travel desk, Arabic prompts as sent on the wire

package bot

// BuiltinTree returns the stock dialogue tree: hospitality unit, car, tour
// and guide booking flows plus customer support, each collecting free-text
// details before handing off to a department.
func BuiltinTree() Tree {
	tree := Tree{
		WelcomeNodeID: {
			Prompt: "مرحبًا بك في *المسار الساخن للسفر والسياحة* 🔥🌍\n\nيشرفنا نخدمك! اختر الخدمة المطلوبة:",
			Options: []Option{
				{ID: "1", Label: "حجز وحدات الضيافة", Emoji: "🏘️", NextNodeID: "hospitality_units", ResponseText: "ممتاز! اختر نوع وحدة الضيافة:"},
				{ID: "2", Label: "حجز سيارات", Emoji: "🚗", NextNodeID: "car_rental", ResponseText: "اختر نوع حجز السيارة:"},
				{ID: "3", Label: "البرامج والخدمات السياحية", Emoji: "🗺️", NextNodeID: "tours_activities", ResponseText: "اختر نوع الخدمة السياحية:"},
				{ID: "4", Label: "المرشدين السياحيين", Emoji: "👨‍🏫", NextNodeID: "tour_guides", ResponseText: "اختر نوع المرشد السياحي:"},
				{ID: "5", Label: "خدمة العملاء", Emoji: "💬", NextNodeID: "customer_support", ResponseText: "مرحبًا بك في الدعم الفني 🤝🔥"},
			},
		},

		"hospitality_units": {
			Prompt: "اختر نوع وحدة الضيافة:",
			Options: []Option{
				{ID: "1", Label: "شاليهات", Emoji: "🏡", NextNodeID: "unit_details", Department: "units"},
				{ID: "2", Label: "منتجعات", Emoji: "🏘️", NextNodeID: "unit_details", Department: "units"},
				{ID: "3", Label: "شقق فندقية", Emoji: "🏢", NextNodeID: "unit_details", Department: "units"},
				{ID: "0", Label: "رجوع", Emoji: "⬅️", NextNodeID: WelcomeNodeID},
			},
		},
		"unit_details": {
			Prompt:        "من فضلك أرسل البيانات التالية:\n\n📍 المدينة / المنطقة\n📅 تاريخ الوصول والمغادرة\n👥 عدد الأشخاص\n🛏️ عدد الغرف (اختياري)\n\n_مثال:_\n*الرياض، من 10/12 إلى 15/12، 4 أشخاص، غرفتين*",
			RequiresInput: true,
			NextNodeID:    "unit_confirmation",
		},
		"unit_confirmation": {
			Prompt: "✅ تم استلام طلبك بنجاح!\n\n📋 التفاصيل:\n{booking_details}\n\n🔄 سيتم عرض أفضل الخيارات المتاحة لك.\n⏱️ سيتواصل معك موظفنا المختص خلال دقائق.\n\nشكرًا لتواصلك مع *المسار الساخن للسفر والسياحة* 🔥",
			Options: []Option{
				{ID: "1", Label: "حجز آخر", Emoji: "➕", NextNodeID: WelcomeNodeID},
				{ID: "0", Label: "إنهاء", Emoji: "✔️", NextNodeID: "thank_you"},
			},
		},

		"car_rental": {
			Prompt: "اختر نوع حجز السيارة:",
			Options: []Option{
				{ID: "1", Label: "تأجير يومي", Emoji: "🚗", NextNodeID: "car_details", Department: "cars"},
				{ID: "2", Label: "تأجير طويل", Emoji: "🚙", NextNodeID: "car_details", Department: "cars"},
				{ID: "3", Label: "سيارات فاخرة", Emoji: "⭐", NextNodeID: "car_details", Department: "cars"},
				{ID: "0", Label: "رجوع", Emoji: "⬅️", NextNodeID: WelcomeNodeID},
			},
		},
		"car_details": {
			Prompt:        "من فضلك أرسل التفاصيل التالية:\n\n📍 المدينة\n📅 تاريخ الاستلام والتسليم\n🚗 نوع السيارة المفضل\n\n_مثال:_\n*الرياض، من 10/12 إلى 15/12، سيارة عائلية*",
			RequiresInput: true,
			NextNodeID:    "car_confirmation",
		},
		"car_confirmation": {
			Prompt: "✅ تم استلام طلبك بنجاح!\n\n📋 التفاصيل:\n{booking_details}\n\n💰 سنرسل لك أفضل الأسعار والعروض.\n⏱️ سيتواصل معك موظفنا المختص خلال دقائق.\n\nشكرًا لتواصلك مع *المسار الساخن للسفر والسياحة* 🔥",
			Options: []Option{
				{ID: "1", Label: "حجز آخر", Emoji: "➕", NextNodeID: WelcomeNodeID},
				{ID: "0", Label: "إنهاء", Emoji: "✔️", NextNodeID: "thank_you"},
			},
		},

		"tours_activities": {
			Prompt: "اختر نوع الخدمة:",
			Options: []Option{
				{ID: "1", Label: "رحلات سياحية", Emoji: "🗺️", NextNodeID: "tour_details", Department: "tourism"},
				{ID: "2", Label: "أنشطة ومغامرات", Emoji: "🎡", NextNodeID: "tour_details", Department: "tourism"},
				{ID: "3", Label: "جولات المدن", Emoji: "🚌", NextNodeID: "tour_details", Department: "tourism"},
				{ID: "0", Label: "رجوع", Emoji: "⬅️", NextNodeID: WelcomeNodeID},
			},
		},
		"tour_details": {
			Prompt:        "من فضلك أرسل التفاصيل:\n\n📍 الوجهة\n👥 عدد الأشخاص\n📅 التاريخ المطلوب\n\n_مثال:_\n*العلا، 6 أشخاص، 15/12/2025*",
			RequiresInput: true,
			NextNodeID:    "tour_confirmation",
		},
		"tour_confirmation": {
			Prompt: "✅ تم استلام طلبك بنجاح!\n\n📋 التفاصيل:\n{booking_details}\n\n🗺️ سنرسل لك البرامج المتاحة والأسعار.\n⏱️ سيتواصل معك موظفنا المختص خلال دقائق.\n\nشكرًا لتواصلك مع *المسار الساخن للسفر والسياحة* 🔥",
			Options: []Option{
				{ID: "1", Label: "خدمة أخرى", Emoji: "➕", NextNodeID: WelcomeNodeID},
				{ID: "0", Label: "إنهاء", Emoji: "✔️", NextNodeID: "thank_you"},
			},
		},

		"tour_guides": {
			Prompt: "اختر نوع المرشد:",
			Options: []Option{
				{ID: "1", Label: "مرشد عربي", Emoji: "👨‍🏫", NextNodeID: "guide_details", Department: "tourism"},
				{ID: "2", Label: "مرشد إنجليزي", Emoji: "👩‍🏫", NextNodeID: "guide_details", Department: "tourism"},
				{ID: "3", Label: "لغات أخرى", Emoji: "🌍", NextNodeID: "guide_details", Department: "tourism"},
				{ID: "0", Label: "رجوع", Emoji: "⬅️", NextNodeID: WelcomeNodeID},
			},
		},
		"guide_details": {
			Prompt:        "من فضلك أرسل التفاصيل:\n\n📍 الوجهة\n📅 التاريخ\n👥 عدد الأشخاص\n🗣️ اللغة المطلوبة (إن لم تُذكر)\n\n_مثال:_\n*الدرعية، 20/12، 8 أشخاص، عربي*",
			RequiresInput: true,
			NextNodeID:    "guide_confirmation",
		},
		"guide_confirmation": {
			Prompt: "✅ تم استلام طلبك بنجاح!\n\n📋 التفاصيل:\n{booking_details}\n\n👨‍🏫 سنوفر لك أفضل المرشدين المتاحين.\n⏱️ سيتواصل معك موظفنا المختص خلال دقائق.\n\nشكرًا لتواصلك مع *المسار الساخن للسفر والسياحة* 🔥",
			Options: []Option{
				{ID: "1", Label: "خدمة أخرى", Emoji: "➕", NextNodeID: WelcomeNodeID},
				{ID: "0", Label: "إنهاء", Emoji: "✔️", NextNodeID: "thank_you"},
			},
		},

		"customer_support": {
			Prompt: "مرحبًا بك في الدعم الفني 🤝🔥\n\nاكتب استفسارك أو طلبك وسنقوم بخدمتك فورًا.\n\nيمكنك أيضًا اختيار:",
			Options: []Option{
				{ID: "1", Label: "تتبع حجز موجود", Emoji: "📦", NextNodeID: "track_booking", Department: "support"},
				{ID: "2", Label: "تعديل حجز", Emoji: "✏️", NextNodeID: "modify_booking", Department: "support"},
				{ID: "3", Label: "إلغاء حجز", Emoji: "❌", NextNodeID: "cancel_booking", Department: "support"},
				{ID: "4", Label: "شكوى", Emoji: "⚠️", NextNodeID: "complaint", Department: "complaints"},
				{ID: "0", Label: "رجوع", Emoji: "⬅️", NextNodeID: WelcomeNodeID},
			},
		},
		"track_booking": {
			Prompt:        "من فضلك أرسل رقم الحجز أو الاسم المسجل به الحجز:",
			RequiresInput: true,
			NextNodeID:    "support_response",
		},
		"modify_booking": {
			Prompt:        "من فضلك أرسل:\n\n🔢 رقم الحجز\n✏️ التعديل المطلوب\n\n_مثال: رقم 12345، تغيير التاريخ من 10/12 إلى 15/12_",
			RequiresInput: true,
			NextNodeID:    "support_response",
		},
		"cancel_booking": {
			Prompt:        "من فضلك أرسل رقم الحجز المطلوب إلغاؤه:\n\n⚠️ ملاحظة: قد تطبق رسوم إلغاء حسب سياسة الحجز",
			RequiresInput: true,
			NextNodeID:    "support_response",
		},
		"complaint": {
			Prompt:        "نعتذر عن أي إزعاج 🙏\n\nمن فضلك اشرح المشكلة بالتفصيل وسنعمل على حلها فورًا:",
			RequiresInput: true,
			NextNodeID:    "complaint_response",
		},
		"complaint_response": {
			Prompt: "✅ تم تسجيل شكواك برقم: #{complaint_number}\n\n📋 التفاصيل:\n{booking_details}\n\n⏱️ سيتواصل معك مدير العلاقات خلال 15 دقيقة لحل المشكلة.\n\n*نعتذر مجددًا ونقدر تفهمك* 🙏",
			Options: []Option{
				{ID: "1", Label: "الصفحة الرئيسية", Emoji: "🏠", NextNodeID: WelcomeNodeID},
				{ID: "0", Label: "إنهاء", Emoji: "✔️", NextNodeID: "thank_you"},
			},
		},
		"support_response": {
			Prompt: "✅ تم استلام طلبك!\n\n📋 التفاصيل:\n{booking_details}\n\n⏱️ سيتواصل معك موظف الدعم خلال دقائق.\n\nشكرًا لتواصلك مع *المسار الساخن للسفر والسياحة* 🔥",
			Options: []Option{
				{ID: "1", Label: "طلب آخر", Emoji: "➕", NextNodeID: "customer_support"},
				{ID: "0", Label: "إنهاء", Emoji: "✔️", NextNodeID: "thank_you"},
			},
		},

		"thank_you": {
			Prompt: "شكرًا لتواصلك مع *المسار الساخن للسفر والسياحة* 🔥🌍\n\nسنرد عليك في أقرب وقت ممكن.\n\nيسعدنا خدمتك دائمًا! ✨",
			Options: []Option{
				{ID: "1", Label: "العودة للقائمة الرئيسية", Emoji: "🏠", NextNodeID: WelcomeNodeID},
			},
		},
	}

	for id, node := range tree {
		node.ID = id
	}
	return tree
}
